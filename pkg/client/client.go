// Package client is the Go client for the fuzzy-psi Mailbox service.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	apiv1 "github.com/mundrapranay/fuzzy-psi/api/v1"
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
	"github.com/mundrapranay/fuzzy-psi/internal/psi"
)

// DefaultPollInterval is how often Fetch retries while a message is missing.
const DefaultPollInterval = 100 * time.Millisecond

// Client talks to a Mailbox server.
type Client struct {
	conn         *grpc.ClientConn
	service      apiv1.MailboxClient
	pollInterval time.Duration
}

// NewClient creates a new client connection to a Mailbox server. Without
// dial options the connection is plaintext.
func NewClient(serverAddr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		conn:         conn,
		service:      apiv1.NewMailboxClient(conn),
		pollInterval: DefaultPollInterval,
	}, nil
}

// SetPollInterval changes the Fetch retry interval.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Publish stores env on the server.
func (c *Client) Publish(ctx context.Context, env *apiv1.Envelope) error {
	req, err := env.ToStruct()
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := c.service.Publish(ctx, req); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Fetch waits until the message of role in session exists and returns it.
// It polls while the server answers NotFound and gives up when ctx ends.
func (c *Client) Fetch(ctx context.Context, session string, role psi.Role) (*apiv1.Envelope, error) {
	req := apiv1.AddressStruct(session, string(role))
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.service.Fetch(ctx, req)
		if err == nil {
			return apiv1.EnvelopeFromStruct(resp)
		}
		if status.Code(err) != codes.NotFound {
			return nil, fmt.Errorf("failed to fetch: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s message: %w", role, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Discard removes every message of session.
func (c *Client) Discard(ctx context.Context, session string) error {
	if _, err := c.service.Discard(ctx, apiv1.AddressStruct(session, "")); err != nil {
		return fmt.Errorf("failed to discard session: %w", err)
	}
	return nil
}

// Transport binds the client to one session so it can drive psi.RunSender
// or psi.RunReceiver.
func (c *Client) Transport(session string) psi.Transport {
	return &sessionTransport{client: c, session: session}
}

type sessionTransport struct {
	client  *Client
	session string
}

func (t *sessionTransport) Publish(ctx context.Context, from psi.Role, msg *psi.Message) error {
	blob, err := msg.Encoding.MarshalBinary()
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, &apiv1.Envelope{
		Session:  t.session,
		Role:     string(from),
		Strategy: string(msg.Strategy),
		Capacity: msg.Capacity,
		Encoding: blob,
	})
}

func (t *sessionTransport) Fetch(ctx context.Context, from psi.Role) (*psi.Message, error) {
	env, err := t.client.Fetch(ctx, t.session, from)
	if err != nil {
		return nil, err
	}
	strategy, err := okvs.ParseStrategy(env.Strategy)
	if err != nil {
		return nil, err
	}
	enc, err := okvs.UnmarshalEncoding(env.Encoding)
	if err != nil {
		return nil, err
	}
	return &psi.Message{
		Strategy: strategy,
		Capacity: env.Capacity,
		Encoding: enc,
	}, nil
}
