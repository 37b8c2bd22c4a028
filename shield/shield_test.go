package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func chain(h http.Handler, mws []func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestDefaultStack_HeadersAndTrace(t *testing.T) {
	var seen string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		GetLogger(r.Context()).Info("handled")
	}), DefaultStack(quiet()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("headers = %v", rec.Header())
	}
	if seen == "" || rec.Header().Get("X-Trace-ID") != seen {
		t.Fatalf("trace id %q, header %q", seen, rec.Header().Get("X-Trace-ID"))
	}
}

func TestTraceID_KeepsValidInbound(t *testing.T) {
	h := TraceID(quiet())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got != "abc-123" {
		t.Fatalf("trace = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "bad id\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got == "" || got == "bad id\n" {
		t.Fatalf("invalid inbound trace kept: %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0"}`)))
	if readErr == nil {
		t.Fatal("oversized body was read without error")
	}

	readErr = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))
	if readErr != nil {
		t.Fatalf("small body: %v", readErr)
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(t.Context()) != slog.Default() {
		t.Fatal("expected slog.Default outside the middleware")
	}
}

func TestBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	mw, err := BearerAuth(string(hash), "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	cases := []struct {
		path, auth string
		want       int
	}{
		{"/mcp", "", http.StatusUnauthorized},
		{"/mcp", "Bearer wrong", http.StatusUnauthorized},
		{"/mcp", "Basic s3cret", http.StatusUnauthorized},
		{"/mcp", "Bearer s3cret", http.StatusOK},
		{"/mcp", "Bearer s3cret", http.StatusOK},
		{"/healthz", "", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, c.path, nil)
		if c.auth != "" {
			req.Header.Set("Authorization", c.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("%s %q: status %d, want %d", c.path, c.auth, rec.Code, c.want)
		}
	}

	if _, err := BearerAuth("not-a-hash"); err == nil {
		t.Fatal("expected an error for a malformed hash")
	}
}
