package callbridge

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// streamListener accumulates inbound messages into an unbounded queue that
// the consumer drains one at a time. Every message handed to the queue is
// paid for with one replenishing Request(1) against the call, so the
// transport's pipeline depth stays at the initially requested capacity.
//
// The queue has two closure modes, which mirror how a consumer should see
// them: a terminal status from the transport still lets the consumer drain
// messages that were enqueued before it, while a local cancellation drops
// pending messages and is reported immediately.
type streamListener[Resp any] struct {
	call CallHandle
	gate *readinessGate

	mu        sync.Mutex
	cond      sync.Cond
	items     *list.List
	closed    bool  // terminal status received; drain remaining items first
	closeErr  error // nil means normal end of stream
	cancelled bool  // local abort; queue discarded
	cancelErr error
	trailers  metadata.MD

	gotHeaders    bool
	headers       metadata.MD
	headersSignal chan struct{}
	done          chan struct{}
}

func newStreamListener[Resp any](call CallHandle, gate *readinessGate) *streamListener[Resp] {
	l := &streamListener[Resp]{
		call:          call,
		gate:          gate,
		items:         list.New(),
		headersSignal: make(chan struct{}),
		done:          make(chan struct{}),
	}
	l.cond.L = &l.mu
	return l
}

func (l *streamListener[Resp]) OnReady() {
	l.gate.notifyReady()
}

func (l *streamListener[Resp]) OnHeaders(headers metadata.MD) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gotHeaders {
		return
	}
	l.gotHeaders = true
	l.headers = headers
	close(l.headersSignal)
}

func (l *streamListener[Resp]) OnMessage(msg any) {
	m := msg.(Resp)
	l.mu.Lock()
	if l.closed || l.cancelled {
		l.mu.Unlock()
		return
	}
	signal := l.items.Len() == 0
	l.items.PushBack(m)
	if signal {
		l.cond.Signal()
	}
	l.mu.Unlock()
	// one-in/one-out: replenish the capacity this message consumed
	l.call.Request(1)
}

func (l *streamListener[Resp]) OnClose(st *status.Status, trailers metadata.MD) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.cancelled {
		return
	}
	l.closed = true
	l.trailers = trailers
	if st.Code() != codes.OK {
		l.closeErr = newStatusError(st, trailers)
	}
	if !l.gotHeaders {
		l.gotHeaders = true
		close(l.headersSignal)
	}
	l.cond.Broadcast()
	close(l.done)
}

// cancel aborts the queue locally: pending items are discarded and the
// consumer observes err immediately, even if a terminal status had already
// arrived and items were still queued.
func (l *streamListener[Resp]) cancel(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancelled {
		return
	}
	l.cancelled = true
	l.cancelErr = err
	l.items.Init() // clear list to free memory
	if !l.gotHeaders {
		l.gotHeaders = true
		close(l.headersSignal)
	}
	l.cond.Broadcast()
	if !l.closed {
		close(l.done)
	}
}

func (l *streamListener[Resp]) next() (Resp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero Resp
	for {
		if l.cancelled {
			return zero, l.cancelErr
		}
		if e := l.items.Front(); e != nil {
			return l.items.Remove(e).(Resp), nil
		}
		if l.closed {
			if l.closeErr != nil {
				return zero, l.closeErr
			}
			return zero, io.EOF
		}
		l.cond.Wait()
	}
}

// ResponseStream is a lazy, single-pass sequence of response messages.
// Recv returns io.EOF once the call completes normally, a *StatusError if
// it terminates with a non-OK status, and the cancellation or upstream
// error if the call was aborted before completing.
//
// Callers that stop consuming before the stream ends must call Close to
// release the underlying call.
type ResponseStream[Resp any] struct {
	ctx   context.Context
	state *callState
	l     *streamListener[Resp]
}

func newResponseStream[Resp any](ctx context.Context, state *callState, l *streamListener[Resp]) *ResponseStream[Resp] {
	s := &ResponseStream[Resp]{ctx: ctx, state: state, l: l}
	go func() {
		// if the context ends first, make sure the call is torn down
		select {
		case <-ctx.Done():
			err := ctx.Err()
			state.release(err)
			l.cancel(err)
		case <-l.done:
			// the call is settled; stop the outbound task without
			// touching the call handle, so queued messages and the
			// terminal status still reach the consumer
			state.cancelSend()
		}
	}()
	return s
}

// Recv returns the next response message. It suspends until a message, the
// terminal status, or a cancellation arrives.
func (s *ResponseStream[Resp]) Recv() (Resp, error) {
	m, err := s.l.next()
	if err != nil {
		// a terminal status means the transport finished the call on
		// its own; there is nothing left to cancel
		var se *StatusError
		if errors.Is(err, io.EOF) || errors.As(err, &se) {
			s.state.release(nil)
		}
	}
	return m, err
}

// Close abandons the stream. If the call has not already terminated, it is
// cancelled; Recv afterwards reports the cancellation. Close is idempotent.
func (s *ResponseStream[Resp]) Close() {
	s.state.release(context.Canceled)
	s.l.cancel(context.Canceled)
}

// Header returns the response header metadata, suspending until the
// transport delivers headers or the call ends.
func (s *ResponseStream[Resp]) Header() (metadata.MD, error) {
	select {
	case <-s.l.headersSignal:
		return s.l.headers, nil
	case <-s.ctx.Done():
		// in the event of a race, always respect getting headers first
		select {
		case <-s.l.headersSignal:
			return s.l.headers, nil
		default:
		}
		return nil, s.ctx.Err()
	}
}

// Trailer returns the trailing metadata. Unlike Header, it does not block
// and should only be used after the stream has ended.
func (s *ResponseStream[Resp]) Trailer() metadata.MD {
	select {
	case <-s.l.done:
		return s.l.trailers
	default:
		return nil
	}
}
