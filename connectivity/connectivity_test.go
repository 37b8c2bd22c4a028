package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		base, max time.Duration
		attempt   int
		want      time.Duration
	}{
		{100 * time.Millisecond, 0, 0, 100 * time.Millisecond},
		{100 * time.Millisecond, 0, 3, 800 * time.Millisecond},
		{100 * time.Millisecond, 300 * time.Millisecond, 3, 300 * time.Millisecond},
		{0, time.Second, 5, 0},
	}
	for _, tc := range cases {
		if got := Backoff(tc.base, tc.max, tc.attempt); got != tc.want {
			t.Errorf("Backoff(%s, %s, %d) = %s, want %s", tc.base, tc.max, tc.attempt, got, tc.want)
		}
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(mw("outer"), mw("inner"))(func(context.Context, *Request) (*Response, error) {
		order = append(order, "handler")
		return &Response{Status: 200}, nil
	})
	h(context.Background(), &Request{})
	if len(order) != 3 || order[0] != "outer" || order[1] != "inner" || order[2] != "handler" {
		t.Fatalf("order = %v", order)
	}
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/ok":
			if r.URL.Query().Get("zone") != "z1" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "hello")
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"zone not found"}`)
		case "/big":
			w.Write(make([]byte, 2048))
		}
	}))
	defer srv.Close()

	h := HTTPTransport(srv.URL+"/", "tok", WithMaxBody(1024))
	resp, err := h(context.Background(), &Request{Path: "/ok", Query: map[string][]string{"zone": {"z1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "hello" || resp.ContentType != "text/plain" {
		t.Fatalf("resp = %+v", resp)
	}

	_, err = h(context.Background(), &Request{Method: http.MethodPost, Path: "bad", Body: []byte(`{}`)})
	var se *ErrStatus
	if !errors.As(err, &se) || se.Status != 400 || se.Body != `{"error":"zone not found"}` {
		t.Fatalf("err = %v", err)
	}
	if Retryable(err) {
		t.Fatal("400 must not be retryable")
	}

	if _, err := h(context.Background(), &Request{Path: "/big"}); err == nil {
		t.Fatal("oversized body accepted")
	}
}

func TestWithRetry_RetriesTemporaryOnly(t *testing.T) {
	var calls atomic.Int32
	flaky := func(context.Context, *Request) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, &ErrStatus{Status: http.StatusBadGateway}
		}
		return &Response{Status: 200}, nil
	}
	h := WithRetry(3, time.Millisecond, quietLogger())(flaky)
	if _, err := h(context.Background(), &Request{}); err != nil {
		t.Fatalf("want success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}

	calls.Store(0)
	h = WithRetry(3, time.Millisecond, nil)(func(context.Context, *Request) (*Response, error) {
		calls.Add(1)
		return nil, &ErrStatus{Status: http.StatusUnauthorized}
	})
	if _, err := h(context.Background(), &Request{}); !IsStatus(err, 401) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("client error retried %d times", calls.Load())
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	h := WithRetry(5, time.Hour, nil)(func(context.Context, *Request) (*Response, error) {
		calls.Add(1)
		cancel()
		return nil, errors.New("connection reset")
	})
	if _, err := h(ctx, &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(time.Minute),
		WithBreakerClock(func() time.Time { return now }),
	)
	down := errors.New("dial tcp: connection refused")

	cb.Record(&ErrStatus{Status: 404})
	cb.Record(&ErrStatus{Status: 404})
	if cb.State() != BreakerClosed {
		t.Fatal("client errors opened the breaker")
	}

	cb.Record(down)
	cb.Record(down)
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	h := WithCircuitBreaker(cb, "api")(func(context.Context, *Request) (*Response, error) {
		return &Response{Status: 200}, nil
	})
	var co *ErrCircuitOpen
	if _, err := h(context.Background(), &Request{}); !errors.As(err, &co) {
		t.Fatalf("err = %v", err)
	}

	now = now.Add(time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}
	if _, err := h(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(quietLogger())(func(context.Context, *Request) (*Response, error) {
		panic("nil map")
	})
	_, err := h(context.Background(), &Request{})
	var pe *ErrPanic
	if !errors.As(err, &pe) || pe.Value != "nil map" {
		t.Fatalf("err = %v", err)
	}
}
