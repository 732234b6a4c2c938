// Package server implements the Mailbox gRPC service on top of the
// replicated store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apiv1 "github.com/mundrapranay/fuzzy-psi/api/v1"
	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
	"github.com/mundrapranay/fuzzy-psi/internal/psi"
	"github.com/mundrapranay/fuzzy-psi/internal/store"
)

// BlobStore is the part of store.Store the server needs.
type BlobStore interface {
	Create(key string, value []byte) error
	Get(key string) ([]byte, bool)
	Delete(key string) error
	Keys(prefix string) []string
	IsLeader() bool
}

var _ BlobStore = (*store.Store)(nil)

// Server implements the Mailbox gRPC service.
type Server struct {
	apiv1.UnimplementedMailboxServer

	store  BlobStore
	logger hclog.Logger
}

// NewServer creates a Mailbox server backed by s.
func NewServer(s BlobStore, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		store:  s,
		logger: logger.Named("mailbox"),
	}
}

func sessionPrefix(session string) string {
	return fmt.Sprintf("session/%s/", session)
}

func messageKey(session string, role psi.Role) string {
	return sessionPrefix(session) + string(role)
}

func storeError(err error) error {
	if errors.Is(err, store.ErrNotLeader) {
		return status.Errorf(codes.FailedPrecondition, "not the leader")
	}
	if errors.Is(err, store.ErrExists) {
		return status.Errorf(codes.AlreadyExists, "message already published: %v", err)
	}
	return status.Errorf(codes.Internal, "failed to store message: %v", err)
}

// Publish validates and replicates an envelope.
func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	env, err := apiv1.EnvelopeFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid envelope: %v", err)
	}
	role, err := psi.ParseRole(env.Role)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if _, err := okvs.ParseStrategy(env.Strategy); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if _, err := okvs.UnmarshalEncoding(env.Encoding); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	key := messageKey(env.Session, role)
	if _, exists := s.store.Get(key); exists {
		return nil, status.Errorf(codes.AlreadyExists, "%s already published for session %s", role, env.Session)
	}

	blob, err := json.Marshal(env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize envelope: %v", err)
	}
	if err := s.store.Create(key, blob); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("published", "session", env.Session, "role", role, "strategy", env.Strategy, "bytes", len(env.Encoding))
	return &emptypb.Empty{}, nil
}

// Fetch returns a published envelope, or NotFound while the peer has not
// published yet.
func (s *Server) Fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, r, err := apiv1.Address(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	role, err := psi.ParseRole(r)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	blob, exists := s.store.Get(messageKey(session, role))
	if !exists {
		return nil, status.Errorf(codes.NotFound, "no %s message for session %s", role, session)
	}

	var env apiv1.Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to deserialize envelope: %v", err)
	}
	resp, err := env.ToStruct()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build response: %v", err)
	}
	return resp, nil
}

// Discard removes every message of a session.
func (s *Server) Discard(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	session, _, err := apiv1.Address(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	keys := s.store.Keys(sessionPrefix(session))
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			return nil, storeError(err)
		}
	}

	s.logger.Info("discarded session", "session", session, "messages", len(keys))
	return &emptypb.Empty{}, nil
}
