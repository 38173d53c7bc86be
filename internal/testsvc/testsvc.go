// Package testsvc provides a small echo service, built from a hand-written
// service descriptor so no code generation is needed, for exercising calls
// of all four shapes. It can be registered on a *grpc.Server or any other
// grpc.ServiceRegistrar, such as an in-process channel.
//
// All methods use wrapperspb.StringValue messages. A request value starting
// with FailPrefix makes the handler fail with the remainder of the value as
// the status message; a request value of HangValue makes it block until the
// call's context ends.
package testsvc

import (
	"context"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the echo service.
const ServiceName = "callbridge.testsvc.Echo"

// Full method names for the four call shapes.
const (
	EchoMethod    = "/" + ServiceName + "/Echo"    // unary: echoes the request
	CollectMethod = "/" + ServiceName + "/Collect" // client stream: joins all requests with "+"
	ExpandMethod  = "/" + ServiceName + "/Expand"  // server stream: one response per comma-separated part
	ChatMethod    = "/" + ServiceName + "/Chat"    // bidi stream: echoes each request
)

const (
	// FailPrefix in a request value makes the handler return an
	// InvalidArgument error whose message is the rest of the value.
	FailPrefix = "fail:"
	// HangValue makes the handler block until the call context ends.
	HangValue = "hang"
)

// Server implements the echo service.
type Server struct{}

// Register registers the echo service on the given registrar.
func Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&Desc, &Server{})
}

func (s *Server) echo(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if req.Value == HangValue {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return wrapperspb.String(req.Value), nil
}

func check(req *wrapperspb.StringValue) error {
	if strings.HasPrefix(req.Value, FailPrefix) {
		return status.Error(codes.InvalidArgument, strings.TrimPrefix(req.Value, FailPrefix))
	}
	return nil
}

func echoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).echo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EchoMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).echo(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func collectHandler(_ interface{}, stream grpc.ServerStream) error {
	var parts []string
	for {
		req := new(wrapperspb.StringValue)
		err := stream.RecvMsg(req)
		if err == io.EOF {
			return stream.SendMsg(wrapperspb.String(strings.Join(parts, "+")))
		}
		if err != nil {
			return err
		}
		if err := check(req); err != nil {
			return err
		}
		parts = append(parts, req.Value)
	}
}

func expandHandler(_ interface{}, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	if err := check(req); err != nil {
		return err
	}
	if req.Value == HangValue {
		<-stream.Context().Done()
		return stream.Context().Err()
	}
	if req.Value == "" {
		return nil
	}
	for _, part := range strings.Split(req.Value, ",") {
		if err := stream.SendMsg(wrapperspb.String(part)); err != nil {
			return err
		}
	}
	return nil
}

func chatHandler(_ interface{}, stream grpc.ServerStream) error {
	for {
		req := new(wrapperspb.StringValue)
		err := stream.RecvMsg(req)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := check(req); err != nil {
			return err
		}
		if err := stream.SendMsg(wrapperspb.String(req.Value)); err != nil {
			return err
		}
	}
}

// Desc is the echo service descriptor.
var Desc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Echo", Handler: echoHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Collect", Handler: collectHandler, ClientStreams: true},
		{StreamName: "Expand", Handler: expandHandler, ServerStreams: true},
		{StreamName: "Chat", Handler: chatHandler, ClientStreams: true, ServerStreams: true},
	},
	Metadata: "callbridge/internal/testsvc",
}
