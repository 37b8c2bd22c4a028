// CLAUDE:SUMMARY HTTP middleware for the streamable MCP transport: security headers, HEAD handling, body cap, trace IDs, bearer auth.
// Package shield provides the HTTP middleware stack mounted in front of the
// MCP endpoint when the server runs over HTTP.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

const (
	loggerKey  contextKey = "shield_logger"
	traceIDKey contextKey = "shield_trace_id"
)

// DefaultMaxBody caps request bodies. MCP messages are small JSON-RPC frames.
const DefaultMaxBody = 4 << 20

// DefaultStack returns the middleware applied to every route, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		TraceID(logger),
	}
}
