package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/raft"
)

var (
	// ErrNotLeader is returned for writes on a follower.
	ErrNotLeader = errors.New("not the leader")
	// ErrExists is returned by a create of a key that is already present.
	ErrExists = errors.New("key already exists")
)

// Op is a replicated mutation.
type Op string

const (
	OpSet    Op = "SET"
	OpDelete Op = "DELETE"
	// OpCreate sets a key only when it is absent.
	OpCreate Op = "CREATE"
)

// Command represents a single operation to be applied to the FSM.
type Command struct {
	Op    Op     `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// FSM holds published messages as opaque blobs keyed by name.
type FSM struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewFSM creates an empty FSM.
func NewFSM() *FSM {
	return &FSM{
		data: make(map[string][]byte),
	}
}

// Apply applies a committed Raft log entry. A non-nil error result is
// surfaced to the writer through the apply future.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to deserialize command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpSet:
		f.data[cmd.Key] = cmd.Value
		return nil
	case OpCreate:
		if _, exists := f.data[cmd.Key]; exists {
			return fmt.Errorf("%w: %s", ErrExists, cmd.Key)
		}
		f.data[cmd.Key] = cmd.Value
		return nil
	case OpDelete:
		delete(f.data, cmd.Key)
		return nil
	default:
		return fmt.Errorf("unrecognized command op: %s", cmd.Op)
	}
}

// Get returns the blob stored under key.
func (f *FSM) Get(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, exists := f.data[key]
	return value, exists
}

// Keys lists the stored keys with the given prefix in ascending order.
func (f *FSM) Keys(prefix string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot captures a deep copy of the FSM state for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clone := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		clone[k] = append([]byte(nil), v...)
	}
	return &fsmSnapshot{data: clone}, nil
}

// Restore replaces the FSM state with a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var data map[string][]byte
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if data == nil {
		data = make(map[string][]byte)
	}

	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	data map[string][]byte
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op: the snapshot owns a private copy.
func (s *fsmSnapshot) Release() {}
