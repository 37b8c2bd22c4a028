// CLAUDE:SUMMARY Upstream call pipeline: Request/Response handler type, middleware chain, logging, recovery, metrics.
// Package connectivity wraps outbound calls to the upstream scraping API in
// a composable middleware chain: timeout, retry with backoff, circuit
// breaker, panic recovery, logging and metrics.
//
//	h := connectivity.Chain(
//	    connectivity.Recovery(logger),
//	    connectivity.WithCircuitBreaker(cb, "api"),
//	    connectivity.WithRetry(2, 500*time.Millisecond, logger),
//	    connectivity.WithTimeout(30*time.Second),
//	)(connectivity.HTTPTransport(baseURL, token))
package connectivity

import (
	"context"
	"log/slog"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/musicaftersex/brightdata-mcp/observability"
)

// Request is one upstream call. Path is relative to the transport's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is a successful (2xx) upstream reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Handler performs an upstream call.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// HandlerMiddleware wraps a Handler, adding cross-cutting behaviour
// without changing the signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration. Failures at error level,
// successes at debug.
func Logging(logger *slog.Logger, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			dur := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "upstream call failed",
					"service", service,
					"method", req.Method,
					"path", req.Path,
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "upstream call ok",
					"service", service,
					"method", req.Method,
					"path", req.Path,
					"duration_ms", dur.Milliseconds(),
					"response_bytes", len(resp.Body))
			}
			return resp, err
		}
	}
}

// Recovery turns a panic in a downstream handler into an *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "upstream handler panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// WithMetrics records call duration and failures. A nil manager disables it.
//
// Emits "upstream.call.duration_ms" for every call and "upstream.call.error"
// on failures, labelled with service and path.
func WithMetrics(mm *observability.MetricsManager, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		if mm == nil {
			return next
		}
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			labels := map[string]string{"service": service, "path": req.Path}

			mm.Record(&observability.Metric{
				Name:      observability.MetricUpstreamDuration,
				Timestamp: start,
				Value:     float64(time.Since(start).Milliseconds()),
				Labels:    labels,
				Unit:      "ms",
			})
			if err != nil {
				mm.Record(&observability.Metric{
					Name:      observability.MetricUpstreamError,
					Timestamp: start,
					Value:     1,
					Labels:    labels,
					Unit:      "count",
				})
			}
			return resp, err
		}
	}
}
