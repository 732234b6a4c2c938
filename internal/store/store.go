// Package store replicates published OKVS messages across a Raft cluster so
// that any node can serve them to the parties of a PSI session.
package store

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const (
	applyTimeout     = 10 * time.Second
	snapshotsRetain  = 3
	transportMaxPool = 3
)

// Store wraps a Raft instance and the FSM holding the message blobs.
type Store struct {
	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
	logger    hclog.Logger
}

// Config holds configuration for initializing a Raft store.
type Config struct {
	NodeID     string
	ListenAddr string
	// AdvertiseAddr is the address peers dial. Empty means the bound
	// listener address, which must then be a routable IP.
	AdvertiseAddr    string
	DataDir          string
	Bootstrap        bool
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	Logger           hclog.Logger
}

// NewStore creates and initializes a new Raft store.
func NewStore(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	raftLogger := logger.Named("raft")
	fsm := NewFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	raftConfig.Logger = raftLogger
	if config.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = config.HeartbeatTimeout
	}
	if config.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = config.ElectionTimeout
	}
	if config.CommitTimeout > 0 {
		raftConfig.CommitTimeout = config.CommitTimeout
	}
	// raft requires the lease to fit inside the heartbeat
	if raftConfig.LeaderLeaseTimeout > raftConfig.HeartbeatTimeout {
		raftConfig.LeaderLeaseTimeout = raftConfig.HeartbeatTimeout
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "logs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "stable"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(config.DataDir, snapshotsRetain, raftLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	var advertise net.Addr
	if config.AdvertiseAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", config.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve advertise address: %w", err)
		}
		advertise = addr
	}

	transport, err := raft.NewTCPTransportWithLogger(config.ListenAddr, advertise, transportMaxPool, applyTimeout, raftLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	return &Store{
		raft:      r,
		fsm:       fsm,
		transport: transport,
		logger:    logger,
	}, nil
}

func (s *Store) apply(cmd Command) error {
	if s.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// Set replicates a blob under key.
func (s *Store) Set(key string, value []byte) error {
	return s.apply(Command{Op: OpSet, Key: key, Value: value})
}

// Create replicates a blob under key unless the key already holds one, in
// which case it returns ErrExists. The check runs inside the state machine,
// so of several concurrent creates exactly one succeeds.
func (s *Store) Create(key string, value []byte) error {
	return s.apply(Command{Op: OpCreate, Key: key, Value: value})
}

// Delete removes key from every replica.
func (s *Store) Delete(key string) error {
	return s.apply(Command{Op: OpDelete, Key: key})
}

// Get reads a blob from the local FSM. Followers may lag the leader.
func (s *Store) Get(key string) ([]byte, bool) {
	return s.fsm.Get(key)
}

// Keys lists locally known keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	return s.fsm.Keys(prefix)
}

// Addr is the Raft address peers use to reach this node.
func (s *Store) Addr() string {
	return string(s.transport.LocalAddr())
}

// IsLeader returns whether this node is currently the Raft leader.
func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader.
func (s *Store) Leader() raft.ServerAddress {
	addr, _ := s.raft.LeaderWithID()
	return addr
}

// WaitForLeader blocks until the cluster has a leader or timeout elapses.
func (s *Store) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Leader() != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leader elected within %s", timeout)
}

// AddPeer adds a new voter to the cluster.
func (s *Store) AddPeer(peerID, peerAddr string) error {
	s.logger.Info("adding peer", "id", peerID, "addr", peerAddr)
	return s.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(peerAddr), 0, 0).Error()
}

// RemovePeer removes a peer from the cluster.
func (s *Store) RemovePeer(peerID string) error {
	s.logger.Info("removing peer", "id", peerID)
	return s.raft.RemoveServer(raft.ServerID(peerID), 0, 0).Error()
}

// Shutdown gracefully shuts down the Raft instance.
func (s *Store) Shutdown() error {
	return s.raft.Shutdown().Error()
}
