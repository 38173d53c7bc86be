package callbridge

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

// Bridge issues RPCs over a Channel, adapting the transport's callback-driven
// calls into blocking results and pull-based response streams.
//
// See NewBridge.
type Bridge struct {
	ch     Channel
	logger *zap.Logger
}

// NewBridge creates a new Bridge that opens calls on the given channel.
func NewBridge(ch Channel, opts ...BridgeOption) *Bridge {
	b := &Bridge{ch: ch, logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(b)
	}
	return b
}

// RequestStream supplies the outbound messages of a client-streaming call.
// Next returns io.EOF once the sequence is exhausted; any other error aborts
// the call with that error as the cause.
type RequestStream[Req any] interface {
	Next(ctx context.Context) (Req, error)
}

// RequestsFromSlice returns a RequestStream yielding the given messages in
// order. Like any RequestStream, it is single-use.
func RequestsFromSlice[Req any](reqs []Req) RequestStream[Req] {
	return &sliceRequests[Req]{reqs: reqs}
}

type sliceRequests[Req any] struct {
	reqs []Req
	next int
}

func (s *sliceRequests[Req]) Next(context.Context) (Req, error) {
	if s.next >= len(s.reqs) {
		var zero Req
		return zero, io.EOF
	}
	req := s.reqs[s.next]
	s.next++
	return req, nil
}

// RequestsFromChannel returns a RequestStream that yields messages received
// on ch until it is closed.
func RequestsFromChannel[Req any](ch <-chan Req) RequestStream[Req] {
	return chanRequests[Req]{ch: ch}
}

type chanRequests[Req any] struct {
	ch <-chan Req
}

func (c chanRequests[Req]) Next(ctx context.Context) (Req, error) {
	var zero Req
	select {
	case req, ok := <-c.ch:
		if !ok {
			return zero, io.EOF
		}
		return req, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// UnaryToUnary issues a call with exactly one request and one response
// message. The result resolves only once the terminal status arrives.
func UnaryToUnary[Req, Resp any](ctx context.Context, b *Bridge, method string, req Req, headers metadata.MD) (Resp, error) {
	var zero Resp
	gate := &readinessGate{}
	listener := newUnaryListener[Resp](gate)
	desc := CallDesc{Method: method, NewResponse: newResponse[Resp]}
	call, sendCtx, state, err := b.startCall(ctx, desc, listener, headers)
	if err != nil {
		return zero, err
	}
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- drainRequests[Req](sendCtx, call, gate, RequestsFromSlice([]Req{req}))
	}()
	return awaitUnary(ctx, state, listener, sendErr)
}

// StreamingToUnary issues a call that sends a stream of request messages and
// produces a single response. The outbound stream is drained concurrently
// with awaiting the result; the result may resolve before the outbound side
// is exhausted.
func StreamingToUnary[Req, Resp any](ctx context.Context, b *Bridge, method string, reqs RequestStream[Req], headers metadata.MD) (Resp, error) {
	var zero Resp
	gate := &readinessGate{}
	listener := newUnaryListener[Resp](gate)
	desc := CallDesc{Method: method, ClientStreams: true, NewResponse: newResponse[Resp]}
	call, sendCtx, state, err := b.startCall(ctx, desc, listener, headers)
	if err != nil {
		return zero, err
	}
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- drainRequests(sendCtx, call, gate, reqs)
	}()
	return awaitUnary(ctx, state, listener, sendErr)
}

// UnaryToStreaming issues a call with exactly one request message that
// produces a stream of responses. The request is sent and the outbound side
// half-closed before the returned stream yields its first element.
func UnaryToStreaming[Req, Resp any](ctx context.Context, b *Bridge, method string, req Req, headers metadata.MD) (*ResponseStream[Resp], error) {
	gate := &readinessGate{}
	desc := CallDesc{Method: method, ServerStreams: true, NewResponse: newResponse[Resp]}
	call, err := b.ch.NewCall(ctx, desc)
	if err != nil {
		return nil, err
	}
	listener := newStreamListener[Resp](call, gate)
	sendCtx, state := b.beginCall(ctx, call, desc, listener, headers)
	stream := newResponseStream(ctx, state, listener)
	if err := gate.send(sendCtx, call, req); err != nil {
		// io.EOF, or the send context ending underneath us, means the
		// call is already settled; let the stream report its outcome
		// to the consumer
		if !errors.Is(err, io.EOF) && sendCtx.Err() == nil {
			state.release(err)
			listener.cancel(err)
			return nil, err
		}
	} else if err := call.CloseSend(); err != nil {
		state.release(err)
		listener.cancel(err)
		return nil, err
	}
	return stream, nil
}

// StreamingToStreaming issues a call that sends a stream of request messages
// and produces a stream of responses. The outbound stream is drained
// concurrently; the consumer observes responses as they arrive, independent
// of outbound progress.
func StreamingToStreaming[Req, Resp any](ctx context.Context, b *Bridge, method string, reqs RequestStream[Req], headers metadata.MD) (*ResponseStream[Resp], error) {
	gate := &readinessGate{}
	desc := CallDesc{Method: method, ClientStreams: true, ServerStreams: true, NewResponse: newResponse[Resp]}
	call, err := b.ch.NewCall(ctx, desc)
	if err != nil {
		return nil, err
	}
	listener := newStreamListener[Resp](call, gate)
	sendCtx, state := b.beginCall(ctx, call, desc, listener, headers)
	go func() {
		err := drainRequests(sendCtx, call, gate, reqs)
		// a send context that ended underneath the drain means the call
		// was settled elsewhere; that outcome wins
		if err != nil && sendCtx.Err() == nil {
			state.release(err)
			listener.cancel(err)
		}
	}()
	return newResponseStream(ctx, state, listener), nil
}

func (b *Bridge) startCall(ctx context.Context, desc CallDesc, listener CallListener, headers metadata.MD) (CallHandle, context.Context, *callState, error) {
	call, err := b.ch.NewCall(ctx, desc)
	if err != nil {
		return nil, nil, nil, err
	}
	sendCtx, state := b.beginCall(ctx, call, desc, listener, headers)
	return call, sendCtx, state, nil
}

// beginCall starts the call and returns the send context that bounds its
// outbound task. The send context ends when the call is released, so a
// sender parked on the request stream or the readiness gate never outlives
// the call itself.
func (b *Bridge) beginCall(ctx context.Context, call CallHandle, desc CallDesc, listener CallListener, headers metadata.MD) (context.Context, *callState) {
	b.logger.Debug("starting call", zap.String("method", desc.Method))
	sendCtx, cancelSend := context.WithCancel(ctx)
	call.Start(listener, headers)
	call.Request(1)
	return sendCtx, &callState{call: call, logger: b.logger, cancelSend: cancelSend}
}

// callState guarantees the call's release policy runs exactly once: a call
// that completed on its own is left alone, a context-cancelled one is
// cancelled with no cause, and a failed one is cancelled with the failure
// as its cause. The cancellation side effect is best-effort and never
// replaces the error being propagated. Every branch, including normal
// completion, ends the send context so the outbound task stops.
type callState struct {
	call       CallHandle
	logger     *zap.Logger
	cancelSend context.CancelFunc
	released   atomic.Bool
}

func (c *callState) release(err error) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.cancelSend()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.logger.Debug("cancelling call: context done", zap.Error(err))
		c.call.Cancel("context done", nil)
	default:
		c.logger.Debug("cancelling call: failed", zap.Error(err))
		c.call.Cancel("call failed", err)
	}
}

// drainRequests sends every message from reqs, gated on transport readiness,
// and half-closes the outbound side once the sequence is exhausted. A send
// failing with io.EOF means the call has already terminated; the terminal
// status is left for the listener to report.
func drainRequests[Req any](ctx context.Context, call CallHandle, gate *readinessGate, reqs RequestStream[Req]) error {
	for {
		req, err := reqs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := gate.send(ctx, call, req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return call.CloseSend()
}

// awaitUnary blocks until the listener resolves, the outbound task fails, or
// the context ends. Listener resolution is checked first on each pass so a
// completed call wins any race with outbound errors.
func awaitUnary[Resp any](ctx context.Context, state *callState, l *unaryListener[Resp], sendErr <-chan error) (Resp, error) {
	var zero Resp
	for {
		select {
		case <-l.done:
		default:
			select {
			case <-l.done:
			case err := <-sendErr:
				if err != nil {
					state.release(err)
					return zero, err
				}
				sendErr = nil // outbound done; keep waiting for the result
				continue
			case <-ctx.Done():
				err := ctx.Err()
				state.release(err)
				return zero, err
			}
		}
		state.release(nil)
		if l.err != nil {
			return zero, l.err
		}
		return l.resp, nil
	}
}

// newResponse allocates an inbound message for the transport to fill.
// Pointer-typed messages get a fresh value of their element type.
func newResponse[Resp any]() any {
	t := reflect.TypeOf((*Resp)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.New(t).Interface()
}
