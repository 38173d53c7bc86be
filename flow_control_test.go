package callbridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessGateSendsImmediatelyWhenReady(t *testing.T) {
	call := newTestCall()
	gate := &readinessGate{}

	require.NoError(t, gate.send(context.Background(), call, "msg"))
	assert.Equal(t, []any{"msg"}, call.sent)
	assert.Nil(t, gate.waiter.Load(), "no waiter may remain registered")
}

func TestReadinessGateWaitsForNotify(t *testing.T) {
	call := newTestCall()
	call.ready.Store(false)
	gate := &readinessGate{}

	sent := make(chan error, 1)
	go func() {
		sent <- gate.send(context.Background(), call, "msg")
	}()

	select {
	case err := <-sent:
		t.Fatalf("send completed without readiness: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	gate.notifyReady()
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not complete after notifyReady")
	}
	assert.Equal(t, 1, call.sentCount())
}

func TestReadinessGateClosesRegistrationRace(t *testing.T) {
	// readiness arrives between the first check and waiter registration:
	// the re-check must let the send proceed without any notify
	call := newTestCall()
	var checks atomic.Int64
	call.readyFn = func() bool {
		return checks.Add(1) > 1
	}
	gate := &readinessGate{}

	require.NoError(t, gate.send(context.Background(), call, "msg"))
	assert.Equal(t, 1, call.sentCount())
	assert.Nil(t, gate.waiter.Load(), "discarded waiter must not linger")
}

func TestReadinessGateNotifyWithoutWaiterIsNoop(t *testing.T) {
	call := newTestCall()
	gate := &readinessGate{}

	gate.notifyReady()
	gate.notifyReady()

	// readiness is not buffered: a later send with an unready transport
	// still has to wait for a fresh notify
	call.ready.Store(false)
	sent := make(chan error, 1)
	go func() {
		sent <- gate.send(context.Background(), call, "msg")
	}()
	select {
	case err := <-sent:
		t.Fatalf("send completed on stale readiness: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	gate.notifyReady()
	require.NoError(t, <-sent)
}

func TestReadinessGateContextCancelled(t *testing.T) {
	call := newTestCall()
	call.ready.Store(false)
	gate := &readinessGate{}

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan error, 1)
	go func() {
		sent <- gate.send(ctx, call, "msg")
	}()

	cancel()
	err := <-sent
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, call.sentCount())
}

func TestCreditWindowTakeBlocksUntilAdd(t *testing.T) {
	w := newCreditWindow()

	taken := make(chan error, 1)
	go func() {
		taken <- w.take(context.Background())
	}()
	select {
	case err := <-taken:
		t.Fatalf("take completed without credits: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	w.add(1)
	require.NoError(t, <-taken)
}

func TestCreditWindowAccumulates(t *testing.T) {
	w := newCreditWindow()
	w.add(2)
	w.add(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.take(ctx))
	}

	// the window is now empty again
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, w.take(ctx2), context.DeadlineExceeded)
}

func TestCreditWindowTakeRespectsContext(t *testing.T) {
	w := newCreditWindow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.take(ctx), context.Canceled)
}
