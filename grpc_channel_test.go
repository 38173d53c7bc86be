package callbridge

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/fullstorydev/grpchan/inprocgrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/grpcbridge/callbridge/internal/testsvc"
)

type strMsg = *wrapperspb.StringValue

func newEchoBridge() *Bridge {
	ch := &inprocgrpc.Channel{}
	testsvc.Register(ch)
	return NewBridge(NewGRPCChannel(ch))
}

func TestGRPCChannelUnary(t *testing.T) {
	b := newEchoBridge()

	resp, err := UnaryToUnary[strMsg, strMsg](context.Background(), b, testsvc.EchoMethod, wrapperspb.String("ping"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", resp.Value)
}

func TestGRPCChannelUnaryStatus(t *testing.T) {
	b := newEchoBridge()

	_, err := UnaryToUnary[strMsg, strMsg](context.Background(), b, testsvc.EchoMethod, wrapperspb.String("fail:bad input"), nil)
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, "bad input", statusErr.GRPCStatus().Message())
}

func TestGRPCChannelUnaryTimeout(t *testing.T) {
	b := newEchoBridge()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := UnaryToUnary[strMsg, strMsg](ctx, b, testsvc.EchoMethod, wrapperspb.String(testsvc.HangValue), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGRPCChannelClientStream(t *testing.T) {
	b := newEchoBridge()

	reqs := RequestsFromSlice([]strMsg{
		wrapperspb.String("a"), wrapperspb.String("b"), wrapperspb.String("c"),
	})
	resp, err := StreamingToUnary[strMsg, strMsg](context.Background(), b, testsvc.CollectMethod, reqs, nil)
	require.NoError(t, err)
	assert.Equal(t, "a+b+c", resp.Value)
}

func TestGRPCChannelClientStreamEmpty(t *testing.T) {
	b := newEchoBridge()

	resp, err := StreamingToUnary[strMsg, strMsg](context.Background(), b, testsvc.CollectMethod, RequestsFromSlice[strMsg](nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "", resp.Value)
}

func TestGRPCChannelServerStream(t *testing.T) {
	b := newEchoBridge()

	stream, err := UnaryToStreaming[strMsg, strMsg](context.Background(), b, testsvc.ExpandMethod, wrapperspb.String("x,y,z"), nil)
	require.NoError(t, err)

	var got []string
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, msg.Value)
	}
	assert.Equal(t, []string{"x", "y", "z"}, got)
}

func TestGRPCChannelServerStreamEmpty(t *testing.T) {
	b := newEchoBridge()

	stream, err := UnaryToStreaming[strMsg, strMsg](context.Background(), b, testsvc.ExpandMethod, wrapperspb.String(""), nil)
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestGRPCChannelServerStreamStatus(t *testing.T) {
	b := newEchoBridge()

	stream, err := UnaryToStreaming[strMsg, strMsg](context.Background(), b, testsvc.ExpandMethod, wrapperspb.String("fail:no expansion"), nil)
	require.NoError(t, err)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCChannelBidiStream(t *testing.T) {
	checkForGoroutineLeak(t, func() {
		b := newEchoBridge()

		in := make(chan strMsg, 5)
		for i := 0; i < 5; i++ {
			in <- wrapperspb.String(fmt.Sprintf("msg-%d", i))
		}
		close(in)

		stream, err := StreamingToStreaming[strMsg, strMsg](context.Background(), b, testsvc.ChatMethod, RequestsFromChannel(in), nil)
		require.NoError(t, err)

		var got []string
		for {
			msg, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, msg.Value)
		}
		assert.Len(t, got, 5)
	})
}

func TestGRPCChannelBidiAbandoned(t *testing.T) {
	b := newEchoBridge()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan strMsg, 1)
	in <- wrapperspb.String("first")
	// deliberately left open: the consumer walks away instead

	stream, err := StreamingToStreaming[strMsg, strMsg](ctx, b, testsvc.ChatMethod, RequestsFromChannel(in), nil)
	require.NoError(t, err)

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Value)

	stream.Close()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

// recordingListener captures raw callbacks so adapter behavior can be
// asserted without a bridge in between. It never replenishes capacity.
type recordingListener struct {
	msgs     chan any
	closed   chan struct{}
	st       *status.Status
	trailers metadata.MD
}

func newRecordingListener() *recordingListener {
	return &recordingListener{msgs: make(chan any, 8), closed: make(chan struct{})}
}

func (l *recordingListener) OnReady()              {}
func (l *recordingListener) OnHeaders(metadata.MD) {}
func (l *recordingListener) OnMessage(msg any)     { l.msgs <- msg }

func (l *recordingListener) OnClose(st *status.Status, trailers metadata.MD) {
	l.st = st
	l.trailers = trailers
	close(l.closed)
}

func TestGRPCChannelCancelWhileAwaitingCredit(t *testing.T) {
	ch := &inprocgrpc.Channel{}
	testsvc.Register(ch)
	channel := NewGRPCChannel(ch)

	desc := CallDesc{Method: testsvc.ExpandMethod, ServerStreams: true, NewResponse: newResponse[strMsg]}
	call, err := channel.NewCall(context.Background(), desc)
	require.NoError(t, err)

	l := newRecordingListener()
	call.Start(l, nil)
	call.Request(1)
	require.NoError(t, call.SendMsg(wrapperspb.String("x,y,z")))
	require.NoError(t, call.CloseSend())

	// the first message consumes the only credit; the receive loop is now
	// parked waiting for more
	msg := <-l.msgs
	assert.Equal(t, "x", msg.(strMsg).Value)

	call.Cancel("consumer gone", context.Canceled)
	<-l.closed
	assert.Equal(t, codes.Canceled, l.st.Code())
	assert.Nil(t, l.trailers, "stream never terminated, so no trailers are valid")
}

func TestGRPCChannelConcurrentCalls(t *testing.T) {
	b := newEchoBridge()

	grp, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		i := i
		grp.Go(func() error {
			for j := 0; j < 25; j++ {
				want := fmt.Sprintf("worker-%d-%d", i, j)
				resp, err := UnaryToUnary[strMsg, strMsg](ctx, b, testsvc.EchoMethod, wrapperspb.String(want), nil)
				if err != nil {
					return err
				}
				if resp.Value != want {
					return fmt.Errorf("echo returned %q, want %q", resp.Value, want)
				}
			}
			return nil
		})
	}
	require.NoError(t, grp.Wait())
}

func checkForGoroutineLeak(t *testing.T, fn func()) {
	before := runtime.NumGoroutine()

	fn()

	// check for goroutine leaks
	deadline := time.Now().Add(time.Second * 5)
	after := 0
	for deadline.After(time.Now()) {
		after = runtime.NumGoroutine()
		if after <= before {
			// number of goroutines returned to previous level: no leak!
			return
		}
		time.Sleep(time.Millisecond * 50)
	}
	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	t.Errorf("%d goroutines leaked:\n%s", after-before, string(buf[:n]))
}
