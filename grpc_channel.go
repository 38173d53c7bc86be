package callbridge

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// NewGRPCChannel adapts a grpc.ClientConnInterface (a real client
// connection, an in-process channel, ...) to the Channel boundary, turning
// each pull-based grpc.ClientStream into listener callbacks.
func NewGRPCChannel(conn grpc.ClientConnInterface) Channel {
	return &grpcChannel{conn: conn}
}

type grpcChannel struct {
	conn grpc.ClientConnInterface
}

var _ CallHandle = (*grpcCall)(nil)

func (c *grpcChannel) NewCall(ctx context.Context, desc CallDesc) (CallHandle, error) {
	callCtx, cancel := context.WithCancelCause(ctx)
	return &grpcCall{
		conn:   c.conn,
		desc:   desc,
		ctx:    callCtx,
		cancel: cancel,
		window: newCreditWindow(),
	}, nil
}

type grpcCall struct {
	conn   grpc.ClientConnInterface
	desc   CallDesc
	ctx    context.Context
	cancel context.CancelCauseFunc
	window *creditWindow

	// set by Start before any other method may run
	stream grpc.ClientStream
}

func (c *grpcCall) Start(listener CallListener, headers metadata.MD) {
	ctx := c.ctx
	if headers.Len() > 0 {
		ctx = metadata.NewOutgoingContext(ctx, headers)
	}
	sd := &grpc.StreamDesc{
		StreamName:    c.desc.Method,
		ClientStreams: c.desc.ClientStreams,
		ServerStreams: c.desc.ServerStreams,
	}
	stream, err := c.conn.NewStream(ctx, sd, c.desc.Method)
	if err != nil {
		// a call that fails to open still reports exactly one close
		listener.OnClose(status.Convert(err), nil)
		return
	}
	c.stream = stream
	listener.OnReady()
	go c.recvLoop(listener)
}

func (c *grpcCall) Request(n int) {
	c.window.add(n)
}

// IsReady is constantly true: grpc.ClientStream.SendMsg applies its own
// backpressure by blocking, so the handle can always accept another message.
func (c *grpcCall) IsReady() bool {
	return true
}

func (c *grpcCall) SendMsg(msg any) error {
	if c.stream == nil {
		return io.EOF
	}
	return c.stream.SendMsg(msg)
}

func (c *grpcCall) CloseSend() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.CloseSend()
}

func (c *grpcCall) Cancel(reason string, cause error) {
	if cause == nil {
		cause = errors.New(reason)
	}
	c.cancel(cause)
}

// recvLoop pulls messages from the stream as inbound credits allow and
// feeds them to the listener. Terminal status is derived the way grpc-go
// reports it: io.EOF from RecvMsg is an OK close, any other error carries
// the status.
func (c *grpcCall) recvLoop(listener CallListener) {
	if headers, err := c.stream.Header(); err == nil && headers.Len() > 0 {
		listener.OnHeaders(headers)
	}
	for {
		if err := c.window.take(c.ctx); err != nil {
			// the stream has not terminated here, so its trailers are
			// not yet valid; report none, like a call that failed to open
			listener.OnClose(status.FromContextError(context.Cause(c.ctx)), nil)
			return
		}
		msg := c.desc.NewResponse()
		if err := c.stream.RecvMsg(msg); err != nil {
			c.closeFromRecv(listener, err)
			return
		}
		listener.OnMessage(msg)
		if !c.desc.ServerStreams {
			// single-response call: the close is not subject to inbound
			// flow control, so eagerly read the terminal status
			trailing := c.desc.NewResponse()
			err := c.stream.RecvMsg(trailing)
			if err == nil {
				err = status.Errorf(codes.Internal, "server sent multiple responses for non-server-stream method %s", c.desc.Method)
			}
			c.closeFromRecv(listener, err)
			return
		}
	}
}

func (c *grpcCall) closeFromRecv(listener CallListener, err error) {
	if errors.Is(err, io.EOF) {
		listener.OnClose(status.New(codes.OK, ""), c.stream.Trailer())
		return
	}
	listener.OnClose(status.Convert(err), c.stream.Trailer())
}
