package raft

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/domain"
)

const (
	opWrite      = "write"
	opDelete     = "delete"
	opLeaderConf = "leader_conf"
)

// command is a single replicated log entry. Write and delete carry the
// expected version observed by the proposer, so the version check happens
// at apply time in log order on every replica and stays deterministic.
type command struct {
	Op              string        `json:"op"`
	LockID          string        `json:"lock_id,omitempty"`
	ExpectedVersion uint64        `json:"expected_version,omitempty"`
	Lease           *domain.Lease `json:"lease,omitempty"`

	NodeID   string `json:"node_id,omitempty"`
	RaftAddr string `json:"raft_addr,omitempty"`
	HTTPAddr string `json:"http_addr,omitempty"`
}

type FSM Node

// FSMResponse is returned to the proposing node from raft.Apply. It never
// travels over the network.
type FSMResponse struct {
	Lease *domain.Lease
	Err   error
}

// Apply applies a Raft log entry to the lease store.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var c command
	if err := json.Unmarshal(l.Data, &c); err != nil {
		panic(fmt.Sprintf("failed to unmarshal command: %s", err.Error()))
	}

	switch c.Op {
	case opWrite:
		return f.applyWrite(&c)
	case opDelete:
		return f.applyDelete(&c)
	case opLeaderConf:
		return f.applyLeaderConf(&c)
	default:
		panic(fmt.Sprintf("unrecognized command op: %s", c.Op))
	}
}

// Snapshot returns a snapshot of the lease store.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &FSMSnapshot{store: f.store}, nil
}

// Restore rebuilds the lease store from a previous snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	f.mu.Lock()
	defer f.mu.Unlock()

	restored, err := f.store.RestoreSnapshot(rc)
	if err != nil {
		log.Info().Msgf("Error while reading snapshot: %v. Restored %d leases", err, restored)
		return err
	}

	return nil
}

func (f *FSM) applyWrite(c *command) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	lease, err := f.store.ConditionalWrite(c.Lease.LockID, c.ExpectedVersion, c.Lease)
	return &FSMResponse{Lease: lease, Err: err}
}

func (f *FSM) applyDelete(c *command) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.store.ConditionalDelete(c.LockID, c.ExpectedVersion)
	return &FSMResponse{Err: err}
}

func (f *FSM) applyLeaderConf(c *command) interface{} {
	log.Info().Msgf("Leader changed to %s (raft=%s http=%s)", c.NodeID, c.RaftAddr, c.HTTPAddr)

	f.leaderConfig.Set(c.NodeID, c.RaftAddr, c.HTTPAddr)
	return &FSMResponse{}
}
