package middleware

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dist-rpc/blob"
	"dist-rpc/message"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// A simple handler: echo the payload back as a PythonRet.
func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return message.NewWithID(req.Payload(), req.Handles(), message.PythonRet, req.ID())
}

// A slow handler: sleeps 200ms.
func slowHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func newRequest() *message.RPCMessage {
	return message.NewWithID([]byte("ok"), nil, message.PythonCall, 7)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload()) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(resp.Payload()))
	}

	failing := LoggingMiddleware(zap.New(core))(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		return message.CreateExceptionResponse("boom", req.ID())
	})
	failing(context.Background(), newRequest())

	if logs.FilterMessage("rpc handled").Len() != 1 {
		t.Fatalf("expect 1 'rpc handled' entry, got %d", logs.FilterMessage("rpc handled").Len())
	}
	failed := logs.FilterMessage("rpc failed").All()
	if len(failed) != 1 || failed[0].ContextMap()["error"] != "boom" {
		t.Fatalf("expect 1 'rpc failed' entry with error=boom, got %+v", failed)
	}
}

func TestTimeoutPass(t *testing.T) {
	// Timeout 500ms, fast handler: should return normally
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if _, failed := resp.ExceptionText(); failed {
		t.Fatalf("expect no error, got %s", resp)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// Timeout 50ms, handler takes 200ms: should time out
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	text, failed := resp.ExceptionText()
	if !failed || text != TimeoutText {
		t.Fatalf("expect timeout exception, got %s", resp)
	}
	if resp.ID() != 7 {
		t.Fatalf("expect id 7, got %d", resp.ID())
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if text, failed := resp.ExceptionText(); failed {
			t.Fatalf("request %d should pass, got error: %s", i, text)
		}
	}

	resp := handler(context.Background(), newRequest())
	if text, _ := resp.ExceptionText(); text != RateLimitText {
		t.Fatalf("request 3 should be rate limited, got: %s", resp)
	}
}

func TestRetrySendsCopies(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		n := calls.Add(1)
		// Simulate a transport that consumes what it sends.
		payload := req.TakePayload()
		req.TakeHandles()
		req.SetID(int64(100 + n))
		if n < 3 {
			return message.CreateExceptionResponse("connection refused", req.ID())
		}
		return message.NewWithID(payload, nil, message.PythonRet, req.ID())
	}

	req := message.NewWithID([]byte("args"), []blob.Handle{blob.New([]byte("t"))}, message.PythonCall, message.UnsetID)
	want := req.Copy()

	resp := RetryMiddleware(3, time.Millisecond)(flaky)(context.Background(), req)

	if calls.Load() != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls.Load())
	}
	if resp.Type() != message.PythonRet || string(resp.Payload()) != "args" {
		t.Fatalf("unexpected response %s", resp)
	}
	if !req.Equal(want) {
		t.Fatalf("original request was modified: %s", req)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	handler := RetryMiddleware(5, time.Millisecond)(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		calls.Add(1)
		return message.CreateExceptionResponse("division by zero", req.ID())
	})

	resp := handler(context.Background(), newRequest())
	if calls.Load() != 1 {
		t.Fatalf("expect 1 attempt, got %d", calls.Load())
	}
	if text, _ := resp.ExceptionText(); text != "division by zero" {
		t.Fatalf("unexpected response %s", resp)
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(tag("a"), LoggingMiddleware(zap.NewNop()), tag("b"), TimeOutMiddleware(500*time.Millisecond))
	resp := chained(echoHandler)(context.Background(), newRequest())

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if _, failed := resp.ExceptionText(); failed {
		t.Fatalf("expect no error, got %s", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect order [a b], got %v", order)
	}
}
