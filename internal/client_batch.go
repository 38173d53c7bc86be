package internal

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/grpcbridge/callbridge"
	"github.com/grpcbridge/callbridge/internal/testsvc"
)

type msg = *wrapperspb.StringValue

// SendCalls uses four goroutines to send batches of calls of all shapes
// (unary, client-, server-, and bidi-streaming) through the given bridge,
// which must be connected to the testsvc echo service.
func SendCalls(ctx context.Context, b *callbridge.Bridge) error {
	var done atomic.Bool
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, ctx := errgroup.WithContext(ctx)
	type action func(context.Context, *callbridge.Bridge) error
	for _, fn := range []action{doUnary, doClientStream, doServerStream, doBidiStream} {
		fn := fn
		grp.Go(func() error {
			for {
				if done.Load() {
					return nil
				}
				if err := fn(ctx, b); err != nil {
					return err
				}
			}
		})
	}
	time.Sleep(5 * time.Second)
	done.Store(true)
	time.AfterFunc(time.Second, cancel)
	return grp.Wait()
}

func doUnary(ctx context.Context, b *callbridge.Bridge) error {
	resp, err := callbridge.UnaryToUnary[msg, msg](ctx, b, testsvc.EchoMethod, wrapperspb.String("ping"), nil)
	if err != nil {
		return err
	}
	if resp.Value != "ping" {
		return fmt.Errorf("unary echo returned %q", resp.Value)
	}
	return nil
}

func doClientStream(ctx context.Context, b *callbridge.Bridge) error {
	reqs := callbridge.RequestsFromSlice([]msg{
		wrapperspb.String("a"), wrapperspb.String("b"), wrapperspb.String("c"),
	})
	resp, err := callbridge.StreamingToUnary[msg, msg](ctx, b, testsvc.CollectMethod, reqs, nil)
	if err != nil {
		return err
	}
	if resp.Value != "a+b+c" {
		return fmt.Errorf("collect returned %q", resp.Value)
	}
	return nil
}

func doServerStream(ctx context.Context, b *callbridge.Bridge) error {
	stream, err := callbridge.UnaryToStreaming[msg, msg](ctx, b, testsvc.ExpandMethod, wrapperspb.String("x,y,z"), nil)
	if err != nil {
		return err
	}
	var n int
	for {
		_, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	if n != 3 {
		return fmt.Errorf("expand produced %d responses, want 3", n)
	}
	return nil
}

func doBidiStream(ctx context.Context, b *callbridge.Bridge) error {
	in := make(chan msg, 10)
	for i := 0; i < 10; i++ {
		in <- wrapperspb.String("echo")
	}
	close(in)
	stream, err := callbridge.StreamingToStreaming[msg, msg](ctx, b, testsvc.ChatMethod, callbridge.RequestsFromChannel(in), nil)
	if err != nil {
		return err
	}
	for {
		_, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
