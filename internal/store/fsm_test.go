package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/hashicorp/raft"
)

func applyCommand(t testing.TB, fsm *FSM, cmd Command) interface{} {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Failed to marshal command: %v", err)
	}
	return fsm.Apply(&raft.Log{Data: data})
}

func TestNewFSM(t *testing.T) {
	fsm := NewFSM()
	if fsm.data == nil {
		t.Fatal("FSM data map is nil")
	}
	if len(fsm.Keys("")) != 0 {
		t.Fatal("FSM should start empty")
	}
}

func TestFSM_ApplySet(t *testing.T) {
	fsm := NewFSM()

	if result := applyCommand(t, fsm, Command{Op: OpSet, Key: "session/a/sender", Value: []byte{1, 2, 3}}); result != nil {
		t.Fatalf("Apply returned error: %v", result)
	}

	value, exists := fsm.Get("session/a/sender")
	if !exists {
		t.Fatal("Key was not stored")
	}
	if !bytes.Equal(value, []byte{1, 2, 3}) {
		t.Fatalf("Expected [1 2 3], got %v", value)
	}
}

func TestFSM_ApplyDelete(t *testing.T) {
	fsm := NewFSM()
	applyCommand(t, fsm, Command{Op: OpSet, Key: "k", Value: []byte("v")})

	if result := applyCommand(t, fsm, Command{Op: OpDelete, Key: "k"}); result != nil {
		t.Fatalf("Delete returned error: %v", result)
	}
	if _, exists := fsm.Get("k"); exists {
		t.Fatal("Key should not exist after delete")
	}

	// deleting a missing key is not an error
	if result := applyCommand(t, fsm, Command{Op: OpDelete, Key: "k"}); result != nil {
		t.Fatalf("Second delete returned error: %v", result)
	}
}

func TestFSM_ApplyCreate(t *testing.T) {
	fsm := NewFSM()

	if result := applyCommand(t, fsm, Command{Op: OpCreate, Key: "k", Value: []byte("first")}); result != nil {
		t.Fatalf("Create returned error: %v", result)
	}

	result := applyCommand(t, fsm, Command{Op: OpCreate, Key: "k", Value: []byte("second")})
	err, ok := result.(error)
	if !ok || !errors.Is(err, ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", result)
	}
	if value, _ := fsm.Get("k"); string(value) != "first" {
		t.Fatalf("Create must not overwrite, got %q", value)
	}

	// a deleted key can be created again
	applyCommand(t, fsm, Command{Op: OpDelete, Key: "k"})
	if result := applyCommand(t, fsm, Command{Op: OpCreate, Key: "k", Value: []byte("third")}); result != nil {
		t.Fatalf("Create after delete returned error: %v", result)
	}
}

func TestFSM_ApplyInvalid(t *testing.T) {
	fsm := NewFSM()

	result := applyCommand(t, fsm, Command{Op: "INVALID", Key: "k"})
	err, ok := result.(error)
	if !ok {
		t.Fatalf("Expected an error result, got %v", result)
	}
	if err.Error() != "unrecognized command op: INVALID" {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, ok := fsm.Apply(&raft.Log{Data: []byte("not json")}).(error); !ok {
		t.Fatal("Expected an error for a malformed log entry")
	}
}

func TestFSM_Keys(t *testing.T) {
	fsm := NewFSM()
	for _, k := range []string{"session/b/sender", "session/a/receiver", "session/a/sender", "other"} {
		applyCommand(t, fsm, Command{Op: OpSet, Key: k, Value: []byte("x")})
	}

	got := fsm.Keys("session/a/")
	want := []string{"session/a/receiver", "session/a/sender"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	if n := len(fsm.Keys("")); n != 4 {
		t.Fatalf("Expected 4 keys, got %d", n)
	}
}

func TestFSM_SnapshotRestore(t *testing.T) {
	fsm := NewFSM()
	applyCommand(t, fsm, Command{Op: OpSet, Key: "key1", Value: []byte("value1")})
	applyCommand(t, fsm, Command{Op: OpSet, Key: "key2", Value: []byte("value2")})

	snapshot, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}
	defer snapshot.Release()

	// later writes must not leak into the snapshot
	applyCommand(t, fsm, Command{Op: OpSet, Key: "key3", Value: []byte("value3")})

	var buf bytes.Buffer
	if err := snapshot.Persist(&mockSnapshotSink{buf: &buf}); err != nil {
		t.Fatalf("Failed to persist snapshot: %v", err)
	}

	restored := NewFSM()
	if err := restored.Restore(io.NopCloser(&buf)); err != nil {
		t.Fatalf("Failed to restore snapshot: %v", err)
	}

	if !reflect.DeepEqual(restored.Keys(""), []string{"key1", "key2"}) {
		t.Fatalf("Unexpected restored keys: %v", restored.Keys(""))
	}
	value, _ := restored.Get("key2")
	if string(value) != "value2" {
		t.Fatalf("Expected 'value2', got '%s'", value)
	}
}

func TestFSM_RestoreInvalid(t *testing.T) {
	fsm := NewFSM()
	if err := fsm.Restore(io.NopCloser(bytes.NewReader([]byte("{")))); err == nil {
		t.Fatal("Expected an error for a truncated snapshot")
	}
}

func BenchmarkFSM_ApplySet(b *testing.B) {
	fsm := NewFSM()
	data, _ := json.Marshal(Command{Op: OpSet, Key: "bench-key", Value: make([]byte, 1024)})
	log := &raft.Log{Data: data}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fsm.Apply(log)
	}
}

type mockSnapshotSink struct {
	buf *bytes.Buffer
}

func (m *mockSnapshotSink) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *mockSnapshotSink) Close() error {
	return nil
}

func (m *mockSnapshotSink) ID() string {
	return "test-snapshot"
}

func (m *mockSnapshotSink) Cancel() error {
	return nil
}
