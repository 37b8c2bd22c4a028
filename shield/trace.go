package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/musicaftersex/brightdata-mcp/idgen"
)

// TraceID tags each request with a short random ID, echoed in X-Trace-ID,
// and attaches a request-scoped logger. An inbound X-Trace-ID is kept when
// it is a plain identifier.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	newID := idgen.NanoID(8)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Trace-ID")
			if !validTrace(id) {
				id = newID()
			}
			w.Header().Set("X-Trace-ID", id)

			l := logger.With("trace_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), traceIDKey, id)
			ctx = context.WithValue(ctx, loggerKey, l)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			l.Debug("shield: request", "remote_addr", r.RemoteAddr, "duration", time.Since(start))
		})
	}
}

func validTrace(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		ok := c == '-' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}

// GetTraceID returns the request trace ID, "" outside TraceID.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// GetLogger returns the request-scoped logger, slog.Default() outside TraceID.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
