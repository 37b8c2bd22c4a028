// Package kit carries per-call metadata through context and composes
// endpoints with middleware. The MCP layer fills the context, tool bodies
// read it.
package kit

import "context"

type contextKey string

const (
	ClientNameKey    contextKey = "kit_client_name"
	ClientVersionKey contextKey = "kit_client_version"
	SessionIDKey     contextKey = "kit_session_id" // MCP session, not browser session
	TransportKey     contextKey = "kit_transport"  // "stdio", "http"
	ProgressKey      contextKey = "kit_progress"
)

// ProgressFunc reports progress of a long-running call. total is 0 when unknown.
type ProgressFunc func(ctx context.Context, progress, total float64, message string)

func WithClient(ctx context.Context, name, version string) context.Context {
	ctx = context.WithValue(ctx, ClientNameKey, name)
	return context.WithValue(ctx, ClientVersionKey, version)
}

func GetClientName(ctx context.Context) string {
	v, _ := ctx.Value(ClientNameKey).(string)
	return v
}

func GetClientVersion(ctx context.Context) string {
	v, _ := ctx.Value(ClientVersionKey).(string)
	return v
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "stdio".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "stdio"
}

func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, ProgressKey, fn)
}

// ReportProgress calls the reporter in ctx, if the client asked for progress.
func ReportProgress(ctx context.Context, progress, total float64, message string) {
	if fn, ok := ctx.Value(ProgressKey).(ProgressFunc); ok && fn != nil {
		fn(ctx, progress, total, message)
	}
}
