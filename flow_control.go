package callbridge

import (
	"context"
	"sync/atomic"
)

// readinessGate lets the outbound-sending task wait for the transport to
// report readiness without busy-polling. At most one waiter is registered
// at a time: outbound sends within one call are strictly sequential, so a
// newer waiter may safely displace an older one.
type readinessGate struct {
	waiter atomic.Pointer[chan struct{}]
}

// notifyReady releases the registered waiter, if any. Readiness is not
// buffered or counted; with no waiter registered this is a no-op.
func (g *readinessGate) notifyReady() {
	if ch := g.waiter.Swap(nil); ch != nil {
		close(*ch)
	}
}

// send delivers msg on the call, suspending until the transport reports
// readiness if it cannot accept the message immediately.
func (g *readinessGate) send(ctx context.Context, call CallHandle, msg any) error {
	if call.IsReady() {
		return call.SendMsg(msg)
	}
	ch := make(chan struct{})
	g.waiter.Store(&ch)
	// readiness may have arrived between the check above and registering
	// the waiter; re-check before suspending
	if call.IsReady() {
		g.waiter.CompareAndSwap(&ch, nil)
		return call.SendMsg(msg)
	}
	select {
	case <-ch:
	case <-ctx.Done():
		g.waiter.CompareAndSwap(&ch, nil)
		return ctx.Err()
	}
	return call.SendMsg(msg)
}

// creditWindow tracks how many inbound messages a receive pump may pull
// from its stream before the consumer grants more via Request. A single
// consumer takes credits; adds that raise the window from zero wake it.
type creditWindow struct {
	credits atomic.Int64
	updates chan struct{}
}

func newCreditWindow() *creditWindow {
	return &creditWindow{updates: make(chan struct{}, 1)}
}

func (w *creditWindow) add(n int) {
	if n <= 0 {
		return
	}
	prev := w.credits.Add(int64(n)) - int64(n)
	if prev == 0 {
		select {
		case w.updates <- struct{}{}:
		default:
		}
	}
}

// take consumes one credit, suspending until one is available.
func (w *creditWindow) take(ctx context.Context) error {
	for {
		cur := w.credits.Load()
		if cur == 0 {
			select {
			case <-w.updates:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if w.credits.CompareAndSwap(cur, cur-1) {
			return nil
		}
	}
}
