package callbridge

import (
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// unaryListener accumulates at most one response message plus the terminal
// status for a call whose result is a single value. The result resolves
// exactly once, when OnClose fires; a message alone never resolves it.
type unaryListener[Resp any] struct {
	gate *readinessGate

	msg    atomic.Pointer[Resp]
	closed atomic.Bool
	done   chan struct{}

	// written once before done is closed, read only after done
	resp     Resp
	err      error
	trailers metadata.MD
}

func newUnaryListener[Resp any](gate *readinessGate) *unaryListener[Resp] {
	return &unaryListener[Resp]{gate: gate, done: make(chan struct{})}
}

func (l *unaryListener[Resp]) OnHeaders(metadata.MD) {}

func (l *unaryListener[Resp]) OnReady() {
	l.gate.notifyReady()
}

// OnMessage keeps the most recent message. Enforcing response arity is the
// transport's job for unary-result shapes.
func (l *unaryListener[Resp]) OnMessage(msg any) {
	m := msg.(Resp)
	l.msg.Store(&m)
}

// OnClose resolves the result exactly once. A second close is a contract
// violation by the transport and is ignored.
func (l *unaryListener[Resp]) OnClose(st *status.Status, trailers metadata.MD) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.trailers = trailers
	if st.Code() != codes.OK {
		l.err = newStatusError(st, trailers)
	} else if m := l.msg.Load(); m != nil {
		l.resp = *m
	} else {
		l.err = ErrMissingResponse
	}
	close(l.done)
}
