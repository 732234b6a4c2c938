package psi

import (
	"context"
	"fmt"
	"sync"

	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// Role names the author of a message.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSender, RoleReceiver:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q (must be %q or %q)", s, RoleSender, RoleReceiver)
	}
}

// Message is one OKVS handed from a party to its peer. The encoding itself is
// not self-describing, so the strategy and capacity travel alongside it; the
// remaining parameters come from the shared Config.
type Message struct {
	Strategy okvs.Strategy
	Capacity int
	Encoding okvs.Encoding
}

// Transport carries messages between the two parties.
type Transport interface {
	// Publish makes msg, authored by from, available to the peer.
	Publish(ctx context.Context, from Role, msg *Message) error

	// Fetch blocks until a message authored by from is available.
	Fetch(ctx context.Context, from Role) (*Message, error)
}

// LocalTransport is an in-process Transport for parties running in one binary.
type LocalTransport struct {
	mu       sync.Mutex
	messages map[Role]*Message
	ready    map[Role]chan struct{}
}

// NewLocalTransport creates an empty LocalTransport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		messages: make(map[Role]*Message),
		ready:    make(map[Role]chan struct{}),
	}
}

func (t *LocalTransport) readyChan(r Role) chan struct{} {
	ch, ok := t.ready[r]
	if !ok {
		ch = make(chan struct{})
		t.ready[r] = ch
	}
	return ch
}

// Publish implements Transport. Each role publishes at most once.
func (t *LocalTransport) Publish(ctx context.Context, from Role, msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.messages[from]; exists {
		return fmt.Errorf("message from %s already published", from)
	}
	t.messages[from] = msg
	close(t.readyChan(from))
	return nil
}

// Fetch implements Transport.
func (t *LocalTransport) Fetch(ctx context.Context, from Role) (*Message, error) {
	t.mu.Lock()
	ch := t.readyChan(from)
	t.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[from], nil
}
