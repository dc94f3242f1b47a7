package cluster

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasegate/leasegate/internal/domain"
)

// TestJoiner tests the Joiner.
func TestJoiner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/join", req.URL.String())
		rw.Write([]byte(`{"id":"node0","raft_addr":"raftAddr"}`))
	}))
	defer server.Close()

	host := server.URL[len("http://"):]

	j := NewJoiner("node0", "raftAddr", []string{host})

	assert.NotNil(t, j)

	err := j.Join()
	require.NoError(t, err)
}

func TestJoinerRetry(t *testing.T) {
	attemptHost1 := 0
	attemptHost2 := 0

	server1 := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/join", req.URL.String())

		if attemptHost1 < 3 {
			attemptHost1++
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.Write([]byte(`{"id":"node0","raft_addr":"raftAddr"}`))
	}))
	defer server1.Close()

	server2 := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/join", req.URL.String())

		if attemptHost2 < 2 {
			attemptHost2++
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, 2, attemptHost2)
		rw.Write([]byte(`{"id":"node0","raft_addr":"raftAddr"}`))
	}))
	defer server2.Close()

	host1 := server1.URL[len("http://"):]
	host2 := server2.URL[len("http://"):]

	j := NewJoiner("node0", "raftAddr", []string{host1, host2})

	assert.NotNil(t, j)

	err := j.Join()
	require.NoError(t, err)
}

func TestJoinerNoHosts(t *testing.T) {
	j := NewJoiner("node0", "raftAddr", []string{})

	assert.NotNil(t, j)

	err := j.Join()

	assert.NoError(t, err)
}

func TestJoinerHostsUnavailable(t *testing.T) {
	j := NewJoiner("node0", "raftAddr", []string{"host1", "host2"})

	assert.NotNil(t, j)

	err := j.Join()

	assert.Equal(t, domain.ErrFailedToJoinNode, err)
}
