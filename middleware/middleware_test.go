package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"instrument-rpc/message"
	"instrument-rpc/rpcerr"
)

// echoHandler answers every request with "ok".
func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return message.NewResult("ok")
}

// slowHandler sleeps 200ms before answering.
func slowHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	time.Sleep(200 * time.Millisecond)
	return message.NewResult("ok")
}

func newReq(t *testing.T, method string) *message.Request {
	t.Helper()
	req, err := message.NewRequest(method, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(zerolog.New(&buf).Level(zerolog.DebugLevel))(echoHandler)

	resp, err := handler(context.Background(), newReq(t, "ping"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got %s", resp.Result)
	}
	if !strings.Contains(buf.String(), `"method":"ping"`) {
		t.Fatalf("expected method in log line, got %s", buf.String())
	}
}

func TestLoggingRemoteError(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(zerolog.New(&buf))(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return message.NewErrorResponse(-1, "unknown method"), nil
	})

	resp, err := handler(context.Background(), newReq(t, "badMethod"))
	if err != nil {
		t.Fatalf("remote error must stay in the response, got %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expected warn log line, got %s", buf.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newReq(t, "ping")); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newReq(t, "ping"))
	if !rpcerr.IsTimeout(err) {
		t.Fatalf("expect TimeoutError, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := newReq(t, "ping")

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	_, err := handler(context.Background(), req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestRateLimitWait(t *testing.T) {
	handler := RateLimitWaitMiddleware(20, 1)(echoHandler)
	req := newReq(t, "ping")

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected requests to be spaced out, took %v", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := handler(ctx, req); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestRetryOnTimeout(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		if calls.Add(1) < 3 {
			return nil, &rpcerr.TimeoutError{Method: req.Method, Attempts: 50}
		}
		return message.NewResult("pong")
	}

	handler := RetryMiddleware(3, time.Millisecond)(flaky)
	resp, err := handler(context.Background(), newReq(t, "ping"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	var got string
	json.Unmarshal(resp.Result, &got)
	if got != "pong" || calls.Load() != 3 {
		t.Fatalf("expect pong after 3 calls, got %q after %d", got, calls.Load())
	}
}

func TestRetrySkipsOtherErrors(t *testing.T) {
	var calls atomic.Int32
	broken := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		calls.Add(1)
		return nil, &rpcerr.TransportError{Op: "read", Err: errors.New("reset")}
	}

	handler := RetryMiddleware(3, time.Millisecond)(broken)
	if _, err := handler(context.Background(), newReq(t, "ping")); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", calls.Load())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(mark("outer"), mark("inner"), TimeOutMiddleware(500*time.Millisecond))
	if _, err := chained(echoHandler)(context.Background(), newReq(t, "ping")); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Fatalf("unexpected order %v", order)
	}
}
