// CLAUDE:SUMMARY Static registry of mode-tagged tool descriptors and the bridge that serves them over MCP through the dispatcher.
// Package mcprt holds the tool registry and exposes it on an MCP server.
//
// Tools are static descriptors tagged with the modes they belong to.
// Bridge filters the registry by the active mode once, at registration time,
// and routes every call through the dispatcher.
package mcprt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// Mode selects the tool surface.
type Mode string

const (
	ModeBase Mode = "base"
	ModePro  Mode = "pro"
)

// Includes reports whether a server running in m exposes a tool tagged t.
// Pro is a superset of base.
func (m Mode) Includes(t Mode) bool {
	return m == t || (m == ModePro && t == ModeBase)
}

// Result is what a tool body returns. Text and Image may both be set.
type Result struct {
	Text      string
	Image     []byte
	ImageMIME string
}

// Text builds a text-only Result.
func Text(s string) *Result { return &Result{Text: s} }

// JSON builds a text Result holding v as indented JSON.
func JSON(v any) (*Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcprt: marshal result: %w", err)
	}
	return &Result{Text: string(data)}, nil
}

// Handler runs a tool. args is the raw JSON object sent by the client,
// "{}" when the client sent none.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// Tool is a static tool descriptor.
type Tool struct {
	Name        string
	Title       string
	Description string
	InputSchema map[string]any
	Modes       []Mode
	ReadOnly    bool
	Handler     Handler
}

// Registry is the set of known tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Add registers tools. Names must be unique, each tool needs a handler, at
// least one mode and an object input schema.
func (r *Registry) Add(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("mcprt: tool %q: name and handler are required", t.Name)
		}
		if len(t.Modes) == 0 {
			return fmt.Errorf("mcprt: tool %q: no mode tag", t.Name)
		}
		if t.InputSchema == nil {
			t.InputSchema = Object(nil)
		}
		if typ, _ := t.InputSchema["type"].(string); typ != "object" {
			return fmt.Errorf("mcprt: tool %q: input schema must have type object", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return fmt.Errorf("mcprt: duplicate tool %q", t.Name)
		}
		r.tools[t.Name] = t
	}
	return nil
}

// MustAdd is Add for static tool tables; it panics on error.
func (r *Registry) MustAdd(tools ...*Tool) {
	if err := r.Add(tools...); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ForMode returns the tools a server in mode m exposes, sorted by name.
func (r *Registry) ForMode(m Mode) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tool
	for _, t := range r.tools {
		if slices.ContainsFunc(t.Modes, m.Includes) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Bind decodes args into v. Malformed arguments are the caller's mistake.
func Bind(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return toolerr.UserWrap(err, "invalid arguments: %v", err)
	}
	return nil
}
