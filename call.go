package callbridge

import (
	"context"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CallHandle is the transport-level handle for a single RPC invocation. A
// handle is created by a Channel, owned by exactly one call for its whole
// lifetime, and never reused.
//
// Message payloads are untyped, mirroring grpc.ClientStream.SendMsg and
// RecvMsg; the bridge's generic call functions recover the concrete types.
type CallHandle interface {
	// Start begins the call, registering the listener that the transport
	// will invoke with inbound messages and the terminal status. It must
	// be called exactly once, before any other method.
	Start(listener CallListener, headers metadata.MD)
	// Request grants the transport capacity to deliver n more inbound
	// messages to the listener.
	Request(n int)
	// SendMsg sends one outbound message. It returns io.EOF if the call
	// has already terminated; the terminal status is then reported via
	// the listener, not here.
	SendMsg(msg any) error
	// CloseSend half-closes the outbound side of the call.
	CloseSend() error
	// Cancel aborts the call. The cause may be nil when the call is being
	// torn down for a reason that is not itself a failure. Cancelling a
	// call that already terminated is a no-op.
	Cancel(reason string, cause error)
	// IsReady reports whether the transport can accept another outbound
	// message without buffering.
	IsReady() bool
}

// CallListener receives the transport's callbacks for one call. The
// transport may invoke it from a different goroutine than the one consuming
// the call's results, but invokes OnClose at most once, after all messages.
type CallListener interface {
	// OnHeaders delivers the response header metadata, at most once,
	// before any message.
	OnHeaders(headers metadata.MD)
	// OnMessage delivers one inbound message. The transport sends at most
	// as many messages as capacity was requested for.
	OnMessage(msg any)
	// OnClose delivers the terminal status and trailing metadata. It is
	// always the last callback for a call.
	OnClose(st *status.Status, trailers metadata.MD)
	// OnReady signals that the transport can accept another outbound
	// message. Readiness is not buffered; only a sender currently waiting
	// is released.
	OnReady()
}

// CallDesc describes one call to be opened on a Channel.
type CallDesc struct {
	// Method is the full method name, e.g. "/package.Service/Method".
	Method string
	// ClientStreams indicates the caller sends a stream of messages.
	ClientStreams bool
	// ServerStreams indicates the call produces a stream of messages.
	ServerStreams bool
	// NewResponse allocates an inbound message for transports that must
	// materialize one before handing it to the listener. The returned
	// value must be a pointer-typed message.
	NewResponse func() any
}

// Channel opens new calls against some transport. grpc.ClientConnInterface
// implementations are adapted via NewGRPCChannel; any other transport can
// provide its own CallHandle implementation.
type Channel interface {
	NewCall(ctx context.Context, desc CallDesc) (CallHandle, error)
}
