package kit

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FromMCPRequest enriches ctx with what the MCP session knows about the
// caller: client identity from the initialize handshake, the session ID and,
// when the request carries a progress token, a reporter that sends
// notifications/progress back to the client.
func FromMCPRequest(ctx context.Context, req *mcp.CallToolRequest) context.Context {
	ss := req.Session
	if ss == nil {
		return ctx
	}
	if init := ss.InitializeParams(); init != nil && init.ClientInfo != nil {
		ctx = WithClient(ctx, init.ClientInfo.Name, init.ClientInfo.Version)
	}
	if id := ss.ID(); id != "" {
		ctx = WithSessionID(ctx, id)
	}
	if req.Params == nil {
		return ctx
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return ctx
	}
	return WithProgress(ctx, func(ctx context.Context, progress, total float64, message string) {
		// Best effort: a client that went away just misses the update.
		_ = ss.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      progress,
			Total:         total,
			Message:       message,
		})
	})
}
