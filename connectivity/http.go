package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/musicaftersex/brightdata-mcp/guard"
)

// MaxResponseBody caps upstream response reads (10 MiB).
const MaxResponseBody int64 = 10 << 20

// HTTPOption configures HTTPTransport.
type HTTPOption func(*httpTransport)

// WithHTTPClient sets the client used for calls.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *httpTransport) { t.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(t *httpTransport) { t.userAgent = ua }
}

// WithMaxBody overrides MaxResponseBody.
func WithMaxBody(n int64) HTTPOption {
	return func(t *httpTransport) { t.maxBody = n }
}

type httpTransport struct {
	base      string
	token     string
	client    *http.Client
	userAgent string
	maxBody   int64
}

// HTTPTransport returns a Handler that sends requests to baseURL with a
// bearer token. Non-2xx replies become *ErrStatus.
func HTTPTransport(baseURL, token string, opts ...HTTPOption) Handler {
	t := &httpTransport{
		base:      strings.TrimRight(baseURL, "/"),
		token:     token,
		client:    http.DefaultClient,
		userAgent: "brightdata-mcp",
		maxBody:   MaxResponseBody,
	}
	for _, o := range opts {
		o(t)
	}
	return t.do
}

func (t *httpTransport) do(ctx context.Context, req *Request) (*Response, error) {
	u := t.base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: create request: %w", err)
	}
	if req.Body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+t.token)
	}
	hreq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: %s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := guard.LimitedReadAll(resp.Body, t.maxBody)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ErrStatus{Method: method, Path: req.Path, Status: resp.StatusCode, Body: truncateBody(data)}
	}
	return &Response{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: data}, nil
}

func truncateBody(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
