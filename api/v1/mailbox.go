// Package apiv1 defines the Mailbox gRPC service through which PSI parties
// hand OKVS messages to each other. Requests and responses are protobuf
// well-known types; the field layout is described on Envelope.
package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "fuzzypsi.v1.Mailbox"

	publishMethod = "/" + ServiceName + "/Publish"
	fetchMethod   = "/" + ServiceName + "/Fetch"
	discardMethod = "/" + ServiceName + "/Discard"
)

// MailboxServer is the server API for the Mailbox service.
type MailboxServer interface {
	// Publish stores a message envelope. Each (session, role) is written once.
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Fetch returns the envelope for (session, role), or NotFound.
	Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Discard drops every envelope of a session.
	Discard(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// UnimplementedMailboxServer can be embedded for forward compatibility.
type UnimplementedMailboxServer struct{}

func (UnimplementedMailboxServer) Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Publish not implemented")
}

func (UnimplementedMailboxServer) Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Fetch not implemented")
}

func (UnimplementedMailboxServer) Discard(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Discard not implemented")
}

// RegisterMailboxServer registers srv on s.
func RegisterMailboxServer(s grpc.ServiceRegistrar, srv MailboxServer) {
	s.RegisterService(&Mailbox_ServiceDesc, srv)
}

func _Mailbox_Publish_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mailbox_Fetch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Fetch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mailbox_Discard_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Discard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: discardMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Discard(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Mailbox_ServiceDesc is the grpc.ServiceDesc for the Mailbox service.
var Mailbox_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: _Mailbox_Publish_Handler},
		{MethodName: "Fetch", Handler: _Mailbox_Fetch_Handler},
		{MethodName: "Discard", Handler: _Mailbox_Discard_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/v1/mailbox.go",
}

// MailboxClient is the client API for the Mailbox service.
type MailboxClient interface {
	Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Fetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Discard(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type mailboxClient struct {
	cc grpc.ClientConnInterface
}

// NewMailboxClient wraps a connection.
func NewMailboxClient(cc grpc.ClientConnInterface) MailboxClient {
	return &mailboxClient{cc}
}

func (c *mailboxClient) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, publishMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mailboxClient) Fetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fetchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mailboxClient) Discard(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, discardMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
