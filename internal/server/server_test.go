package server

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	apiv1 "github.com/mundrapranay/fuzzy-psi/api/v1"
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
	"github.com/mundrapranay/fuzzy-psi/internal/psi"
	"github.com/mundrapranay/fuzzy-psi/internal/store"
	"github.com/mundrapranay/fuzzy-psi/pkg/client"
)

// memStore is a single-node BlobStore used where Raft adds nothing.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	leader bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), leader: true}
}

func (m *memStore) Create(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.leader {
		return store.ErrNotLeader
	}
	if _, exists := m.data[key]; exists {
		return store.ErrExists
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *memStore) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

func startServer(t *testing.T, s BlobStore) *client.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	apiv1.RegisterMailboxServer(grpcServer, NewServer(s, nil))
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	c, err := client.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.SetPollInterval(10 * time.Millisecond)
	t.Cleanup(func() { c.Close() })
	return c
}

func testEnvelope(session string, role psi.Role) *apiv1.Envelope {
	return &apiv1.Envelope{
		Session:  session,
		Role:     string(role),
		Strategy: string(okvs.StrategyBanded),
		Capacity: 2,
		Encoding: make([]byte, 3*okvs.ValueSize),
	}
}

func TestServer_PublishFetch(t *testing.T) {
	c := startServer(t, newMemStore())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env := testEnvelope("s1", psi.RoleSender)
	env.Encoding[0] = 0xAB
	if err := c.Publish(ctx, env); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := c.Fetch(ctx, "s1", psi.RoleSender)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Session != "s1" || got.Role != "sender" || got.Strategy != "banded" || got.Capacity != 2 {
		t.Fatalf("Unexpected envelope: %+v", got)
	}
	if len(got.Encoding) != 3*okvs.ValueSize || got.Encoding[0] != 0xAB {
		t.Fatalf("Encoding not preserved: %v", got.Encoding)
	}
}

func TestServer_PublishTwice(t *testing.T) {
	c := startServer(t, newMemStore())
	ctx := context.Background()

	if err := c.Publish(ctx, testEnvelope("s1", psi.RoleSender)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	err := c.Publish(ctx, testEnvelope("s1", psi.RoleSender))
	if status.Code(err) != codes.AlreadyExists {
		t.Fatalf("Expected AlreadyExists, got %v", err)
	}

	// the other role and other sessions are independent
	if err := c.Publish(ctx, testEnvelope("s1", psi.RoleReceiver)); err != nil {
		t.Fatalf("Publish receiver failed: %v", err)
	}
	if err := c.Publish(ctx, testEnvelope("s2", psi.RoleSender)); err != nil {
		t.Fatalf("Publish other session failed: %v", err)
	}
}

func TestServer_PublishInvalid(t *testing.T) {
	c := startServer(t, newMemStore())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*apiv1.Envelope)
	}{
		{"missing session", func(e *apiv1.Envelope) { e.Session = "" }},
		{"bad role", func(e *apiv1.Envelope) { e.Role = "observer" }},
		{"bad strategy", func(e *apiv1.Envelope) { e.Strategy = "cuckoo" }},
		{"zero capacity", func(e *apiv1.Envelope) { e.Capacity = 0 }},
		{"ragged encoding", func(e *apiv1.Envelope) { e.Encoding = make([]byte, okvs.ValueSize+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope("s1", psi.RoleSender)
			tt.mutate(env)
			err := c.Publish(ctx, env)
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("Expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestServer_NotLeader(t *testing.T) {
	s := newMemStore()
	s.leader = false
	c := startServer(t, s)

	err := c.Publish(context.Background(), testEnvelope("s1", psi.RoleSender))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Expected FailedPrecondition, got %v", err)
	}
	err = c.Discard(context.Background(), "s1")
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Expected FailedPrecondition, got %v", err)
	}
}

func TestServer_FetchWaits(t *testing.T) {
	c := startServer(t, newMemStore())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "late", psi.RoleReceiver)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Publish(ctx, testEnvelope("late", psi.RoleReceiver)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Fetch should succeed once published: %v", err)
	}
}

func TestServer_FetchTimeout(t *testing.T) {
	c := startServer(t, newMemStore())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := c.Fetch(ctx, "never", psi.RoleSender); err == nil {
		t.Fatal("Fetch should fail when nothing is published")
	}
}

func TestServer_Discard(t *testing.T) {
	s := newMemStore()
	c := startServer(t, s)
	ctx := context.Background()

	c.Publish(ctx, testEnvelope("s1", psi.RoleSender))
	c.Publish(ctx, testEnvelope("s1", psi.RoleReceiver))
	c.Publish(ctx, testEnvelope("s2", psi.RoleSender))

	if err := c.Discard(ctx, "s1"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if keys := s.Keys(""); len(keys) != 1 || keys[0] != "session/s2/sender" {
		t.Fatalf("Unexpected remaining keys: %v", keys)
	}

	// a discarded session can be reused
	if err := c.Publish(ctx, testEnvelope("s1", psi.RoleSender)); err != nil {
		t.Fatalf("Publish after discard failed: %v", err)
	}
}

// newRaftStore bootstraps a single-node store and waits until it leads.
func newRaftStore(t *testing.T) *store.Store {
	t.Helper()

	raftStore, err := store.NewStore(store.Config{
		NodeID:           "node1",
		ListenAddr:       "127.0.0.1:0",
		DataDir:          t.TempDir(),
		Bootstrap:        true,
		HeartbeatTimeout: 500 * time.Millisecond,
		ElectionTimeout:  500 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { raftStore.Shutdown() })

	deadline := time.Now().Add(5 * time.Second)
	for !raftStore.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for leadership")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return raftStore
}

func TestServer_ConcurrentPublish(t *testing.T) {
	raftStore := newRaftStore(t)
	c := startServer(t, raftStore)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const publishers = 8
	errs := make(chan error, publishers)
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := testEnvelope("race", psi.RoleSender)
			env.Encoding[0] = byte(i)
			errs <- c.Publish(ctx, env)
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if status.Code(err) != codes.AlreadyExists {
			t.Fatalf("Expected AlreadyExists, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("Expected exactly one publish to succeed, got %d", succeeded)
	}

	first, err := c.Fetch(ctx, "race", psi.RoleSender)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if err := c.Publish(ctx, testEnvelope("race", psi.RoleSender)); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("Expected AlreadyExists on republish, got %v", err)
	}
	again, err := c.Fetch(ctx, "race", psi.RoleSender)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if again.Encoding[0] != first.Encoding[0] {
		t.Fatalf("Published encoding was replaced: %d then %d", first.Encoding[0], again.Encoding[0])
	}
}

func TestServer_FuzzyPSIOverMailbox(t *testing.T) {
	raftStore := newRaftStore(t)
	c := startServer(t, raftStore)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	config := psi.DefaultConfig()
	config.Strategy = string(okvs.StrategyPolynomial)

	senderPoints := []uint64{1, 10, 100, 1000, 10000}
	receiverPoints := []uint64{1, 1000, 100}

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- psi.RunReceiver(ctx, config, receiverPoints, c.Transport("e2e"), psi.Options{})
	}()

	matches, err := psi.RunSender(ctx, config, senderPoints, c.Transport("e2e"), psi.Options{})
	if err != nil {
		t.Fatalf("Sender failed: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("Receiver failed: %v", err)
	}

	want := []uint64{1, 100, 1000}
	if len(matches) != len(want) {
		t.Fatalf("Expected %v, got %v", want, matches)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, matches)
		}
	}

	if err := c.Discard(ctx, "e2e"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if keys := raftStore.Keys("session/e2e/"); len(keys) != 0 {
		t.Fatalf("Session should be empty after discard, got %v", keys)
	}
}
