// Package raft replicates the lease store via Raft consensus. Conditional
// writes and deletes travel through the replicated log and are applied by
// every replica against its local badger store; the log order is what makes
// the store's CAS linearizable across nodes.
package raft

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/raft"
	badgerdb "github.com/kgantsov/raft-badgerstore"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/domain"
	"github.com/leasegate/leasegate/internal/store"
)

const (
	retainSnapshotCount = 2
	raftTimeout         = 10 * time.Second
)

// LeaderConfig tracks the most recently announced leader so followers can
// point callers at its HTTP address.
type LeaderConfig struct {
	mu       sync.Mutex
	ID       string
	RaftAddr string
	HTTPAddr string
}

func NewLeaderConfig(id, raftAddr, httpAddr string) *LeaderConfig {
	return &LeaderConfig{ID: id, RaftAddr: raftAddr, HTTPAddr: httpAddr}
}

func (c *LeaderConfig) Set(id, raftAddr, httpAddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ID = id
	c.RaftAddr = raftAddr
	c.HTTPAddr = httpAddr
}

func (c *LeaderConfig) HTTPAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HTTPAddr
}

// Node is a replicated lease store. It implements store.LeaseStore; all
// mutations are made via Raft consensus, so they apply only when a majority
// of the cluster agrees. Operations on a follower fail with
// domain.NotLeaderError carrying the leader's HTTP address.
type Node struct {
	RaftDir  string
	RaftBind string
	HTTPAddr string
	serverID raft.ServerID
	inmemory bool

	mu    sync.Mutex
	store *store.BadgerStore

	db *badger.DB

	leaderChangeFn func(bool)

	leaderConfig *LeaderConfig

	valueLogGCInterval time.Duration

	raft *raft.Raft // The consensus mechanism
}

// NewNode returns an unopened Node on top of db. When inmemory is set the
// raft log and stable store are kept in memory (tests); lease records still
// live in db.
func NewNode(db *badger.DB, inmemory bool) *Node {
	return &Node{
		leaderChangeFn:     func(bool) {},
		valueLogGCInterval: 5 * time.Minute,
		inmemory:           inmemory,
		db:                 db,
	}
}

// SetLeaderChangeFunc registers a callback invoked whenever this node gains
// or loses leadership. The sweeper and the cluster EndpointSlice updater
// hang off it.
func (n *Node) SetLeaderChangeFunc(leaderChangeFn func(bool)) {
	n.leaderChangeFn = leaderChangeFn
}

// Open opens the store. If enableSingle is set, and there are no existing
// peers, this node becomes the first node, and therefore leader, of the
// cluster. localID should be the server identifier for this node.
func (n *Node) Open(enableSingle bool, localID string) error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(localID)
	n.serverID = config.LocalID

	n.leaderConfig = NewLeaderConfig(localID, n.RaftBind, n.HTTPAddr)

	addr, err := net.ResolveTCPAddr("tcp", n.RaftBind)
	if err != nil {
		log.Error().Msgf("Error resolving TCP address: %s", err)
		return err
	}
	transport, err := raft.NewTCPTransport(n.RaftBind, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		log.Error().Msgf("Error creating TCP transport: %s", err)
		return err
	}

	// Create the snapshot store. This allows the Raft to truncate the log.
	snapshots, err := raft.NewFileSnapshotStore(n.RaftDir, retainSnapshotCount, os.Stderr)
	if err != nil {
		log.Error().Msgf("Error creating file snapshot store: %s", err)
		return fmt.Errorf("file snapshot store: %s", err)
	}

	// Create the log store and stable store.
	var logStore raft.LogStore
	var stableStore raft.StableStore
	if n.inmemory {
		inmem := raft.NewInmemStore()
		logStore = inmem
		stableStore = inmem
	} else {
		badgerDB, err := badgerdb.New(n.db, badgerdb.Options{})
		if err != nil {
			return fmt.Errorf("new store: %s", err)
		}
		logStore = badgerDB
		stableStore = badgerDB
	}
	n.store = store.NewBadgerStore(n.db)

	ra, err := raft.NewRaft(config, (*FSM)(n), logStore, stableStore, snapshots, transport)
	if err != nil {
		log.Error().Msgf("Error creating new Raft: %s", err)
		return fmt.Errorf("new raft: %s", err)
	}
	n.raft = ra

	if enableSingle {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      config.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		ra.BootstrapCluster(configuration)
	}

	go n.ListenToLeaderChanges()

	return nil
}

func (n *Node) ListenToLeaderChanges() {
	for isLeader := range n.raft.LeaderCh() {
		if isLeader {
			log.Info().Msgf("Node %s has become a leader", n.serverID)
			if err := n.NotifyLeaderConfiguration(); err != nil {
				log.Warn().Err(err).Msg("failed to notify leader configuration")
			}
		} else {
			log.Info().Msgf("Node %s lost leadership", n.serverID)
		}
		n.leaderChangeFn(isLeader)
	}
}

// NotifyLeaderConfiguration replicates the new leader's addresses so every
// follower knows where to forward operations.
func (n *Node) NotifyLeaderConfiguration() error {
	data, err := json.Marshal(command{
		Op:       opLeaderConf,
		NodeID:   string(n.serverID),
		RaftAddr: n.RaftBind,
		HTTPAddr: n.HTTPAddr,
	})
	if err != nil {
		return err
	}

	f := n.raft.Apply(data, raftTimeout)
	return f.Error()
}

// Read returns the lease record from the leader's local store. A stale read
// on a deposed leader is harmless: every mutation re-validates the version
// through the replicated CAS.
func (n *Node) Read(lockID string) (*domain.Lease, error) {
	if err := n.checkLeader(); err != nil {
		return nil, err
	}
	return n.store.Read(lockID)
}

func (n *Node) ConditionalWrite(
	lockID string, expectedVersion uint64, lease *domain.Lease,
) (*domain.Lease, error) {
	if err := n.checkLeader(); err != nil {
		return nil, err
	}

	toStore := lease.Clone()
	toStore.LockID = lockID

	resp, err := n.apply(command{
		Op:              opWrite,
		LockID:          lockID,
		ExpectedVersion: expectedVersion,
		Lease:           toStore,
	})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Lease, nil
}

func (n *Node) ConditionalDelete(lockID string, expectedVersion uint64) error {
	if err := n.checkLeader(); err != nil {
		return err
	}

	resp, err := n.apply(command{
		Op:              opDelete,
		LockID:          lockID,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return err
	}
	return resp.Err
}

// Expired scans the local store. The sweeper only runs on the leader, and a
// stale entry in the result can do no harm: reclaiming goes back through the
// replicated conditional delete.
func (n *Node) Expired(olderThanMillis int64, limit int) ([]*domain.Lease, error) {
	if err := n.checkLeader(); err != nil {
		return nil, err
	}
	return n.store.Expired(olderThanMillis, limit)
}

func (n *Node) apply(c command) (*FSMResponse, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	f := n.raft.Apply(data, raftTimeout)
	if err := f.Error(); err != nil {
		// The entry may or may not have committed. Fail closed; the caller
		// must re-read before assuming anything.
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return f.Response().(*FSMResponse), nil
}

func (n *Node) checkLeader() error {
	if n.raft.State() != raft.Leader {
		return &domain.NotLeaderError{LeaderHTTPAddr: n.leaderConfig.HTTPAddress()}
	}
	return nil
}

// Join joins a node, identified by nodeID and located at raftAddr, to this
// store. The node must be ready to respond to Raft communications at that
// address.
func (n *Node) Join(nodeID, raftAddr string) error {
	log.Info().Msgf("received join request for remote node %s at %s", nodeID, raftAddr)

	configFuture := n.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		log.Error().Msgf("failed to get raft configuration: %v", err)
		return err
	}

	for _, srv := range configFuture.Configuration().Servers {
		// If a node already exists with either the joining node's ID or address,
		// that node may need to be removed from the config first.
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(raftAddr) {
			// However if *both* the ID and the address are the same, then nothing -- not even
			// a join operation -- is needed.
			if srv.Address == raft.ServerAddress(raftAddr) && srv.ID == raft.ServerID(nodeID) {
				log.Info().Msgf("node %s at %s already member of cluster, ignoring join request", nodeID, raftAddr)
				return nil
			}

			future := n.raft.RemoveServer(srv.ID, 0, 0)
			if err := future.Error(); err != nil {
				return fmt.Errorf("error removing existing node %s at %s: %s", nodeID, raftAddr, err)
			}
		}
	}

	f := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, 0)
	if f.Error() != nil {
		return f.Error()
	}

	log.Info().Msgf("node %s at %s joined successfully", nodeID, raftAddr)
	return nil
}

func (n *Node) NodeID() string {
	return string(n.serverID)
}

func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// RunValueLogGC periodically compacts the badger value log.
func (n *Node) RunValueLogGC() {
	ticker := time.NewTicker(n.valueLogGCInterval)
	defer ticker.Stop()

	log.Debug().Msgf("Started running value GC")

	for range ticker.C {
		log.Debug().Msg("Running value GC")
	again:
		err := n.db.RunValueLogGC(0.7)
		if err == nil {
			goto again
		}
	}
}

func (n *Node) Close() error {
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			log.Warn().Err(err).Msg("failed to shut down raft")
		}
	}
	return n.store.Close()
}
