package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasegate/leasegate/internal/domain"
)

// followerLocks simulates a Raft follower: every operation points the caller
// at the leader.
type followerLocks struct {
	leaderAddr string
}

func (f *followerLocks) Acquire(string, string, time.Duration) (*domain.Lease, error) {
	return nil, &domain.NotLeaderError{LeaderHTTPAddr: f.leaderAddr}
}

func (f *followerLocks) Renew(string, string, time.Duration) (*domain.Lease, error) {
	return nil, &domain.NotLeaderError{LeaderHTTPAddr: f.leaderAddr}
}

func (f *followerLocks) Release(string, string) error {
	return &domain.NotLeaderError{LeaderHTTPAddr: f.leaderAddr}
}

func (f *followerLocks) Status(string) (*domain.Lease, error) {
	return nil, &domain.NotLeaderError{LeaderHTTPAddr: f.leaderAddr}
}

func TestForwardToLeader(t *testing.T) {
	// The leader is a full service over a real manager.
	leaderLocks, _ := testLockService(t)
	leader := New("0", leaderLocks, &testNode{})

	leaderSrv := httptest.NewServer(adaptFiber(leader))
	t.Cleanup(leaderSrv.Close)

	leaderAddr := strings.TrimPrefix(leaderSrv.URL, "http://")

	_, api := humatest.New(t)
	h := &Handler{
		locks:       &followerLocks{leaderAddr: leaderAddr},
		node:        &testNode{},
		forwardHTTP: &http.Client{},
	}
	h.RegisterRoutes(api)

	resp := api.Post("/API/v1/locks/my_lock/acquire", map[string]any{
		"owner":  "owner-1",
		"ttl_ms": 5000,
	})

	acquired := &SuccessOutput{}
	json.Unmarshal(resp.Body.Bytes(), acquired)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ACQUIRED", acquired.Status)
	assert.Equal(t, "owner-1", acquired.Owner)
	assert.Equal(t, uint64(1), acquired.FencingToken)

	// A denial on the leader passes through with the leader's status code.
	resp = api.Post("/API/v1/locks/my_lock/acquire", map[string]any{
		"owner":  "owner-2",
		"ttl_ms": 5000,
	})

	errorOutput := &ErrorOutput{}
	json.Unmarshal(resp.Body.Bytes(), errorOutput)

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "Failed to acquire a lock", errorOutput.Detail)

	resp = api.Post("/API/v1/locks/my_lock/renew", map[string]any{
		"owner":  "owner-1",
		"ttl_ms": 5000,
	})

	renewed := &SuccessOutput{}
	json.Unmarshal(resp.Body.Bytes(), renewed)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "RENEWED", renewed.Status)
	assert.Equal(t, uint64(2), renewed.FencingToken)

	resp = api.Get("/API/v1/locks/my_lock")

	type StatusBody struct {
		Free  bool   `json:"free"`
		Owner string `json:"owner"`
	}
	status := &StatusBody{}
	json.Unmarshal(resp.Body.Bytes(), status)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, status.Free)
	assert.Equal(t, "owner-1", status.Owner)

	resp = api.Post("/API/v1/locks/my_lock/release", map[string]any{
		"owner": "owner-1",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestForwardNoLeader(t *testing.T) {
	_, api := humatest.New(t)
	h := &Handler{
		locks:       &followerLocks{leaderAddr: ""},
		node:        &testNode{},
		forwardHTTP: &http.Client{},
	}
	h.RegisterRoutes(api)

	resp := api.Post("/API/v1/locks/my_lock/acquire", map[string]any{
		"owner":  "owner-1",
		"ttl_ms": 5000,
	})

	errorOutput := &ErrorOutput{}
	json.Unmarshal(resp.Body.Bytes(), errorOutput)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "No leader elected yet", errorOutput.Detail)
}

// adaptFiber bridges the fiber app into a net/http handler via its built-in
// test transport, so httptest can serve it on a real port.
func adaptFiber(s *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.router.Test(r, -1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for key, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}
