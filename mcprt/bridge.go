package mcprt

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/musicaftersex/brightdata-mcp/dispatch"
	"github.com/musicaftersex/brightdata-mcp/kit"
)

// Bridge registers every tool of reg that mode exposes on srv. Each call is
// run through d. Tool failures become results with IsError set, never
// protocol errors. Returns the registered tool names.
func Bridge(srv *mcp.Server, reg *Registry, mode Mode, d *dispatch.Dispatcher, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	tools := reg.ForMode(mode)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		srv.AddTool(descriptor(t), handler(t, d))
		names = append(names, t.Name)
	}
	logger.Info("mcprt: tools registered", "mode", string(mode), "count", len(names))
	return names
}

func descriptor(t *Tool) *mcp.Tool {
	tool := &mcp.Tool{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
	if t.ReadOnly {
		tool.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true}
	}
	return tool
}

func handler(t *Tool, d *dispatch.Dispatcher) mcp.ToolHandler {
	body := func(ctx context.Context, in any) (any, error) {
		return t.Handler(ctx, in.(json.RawMessage))
	}
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = kit.FromMCPRequest(ctx, req)
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		out, err := d.Dispatch(ctx, dispatch.CallFromContext(ctx, t.Name), args, body)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		r, _ := out.(*Result)
		return toCallResult(r), nil
	}
}

func toCallResult(r *Result) *mcp.CallToolResult {
	res := &mcp.CallToolResult{Content: []mcp.Content{}}
	if r == nil {
		return res
	}
	if r.Text != "" || len(r.Image) == 0 {
		res.Content = append(res.Content, &mcp.TextContent{Text: r.Text})
	}
	if len(r.Image) > 0 {
		mime := r.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		res.Content = append(res.Content, &mcp.ImageContent{Data: r.Image, MIMEType: mime})
	}
	return res
}
