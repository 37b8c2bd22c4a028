// CLAUDE:SUMMARY scraping_browser_* tools: navigation, snapshots, ref actions, page content and network log over the session store.
// Package browsertools registers the remote browser tools.
//
// Each MCP session has a current domain: the hostname of its last
// navigation. Every other browser tool acts on the store's session for that
// domain, so two agents browsing different sites never share a page.
package browsertools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/musicaftersex/brightdata-mcp/kit"
	"github.com/musicaftersex/brightdata-mcp/mcprt"
	"github.com/musicaftersex/brightdata-mcp/session"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// MaxHTMLBytes caps scraping_browser_get_html output.
const MaxHTMLBytes = 200_000

// MaxTextBytes caps scraping_browser_get_text output.
const MaxTextBytes = 100_000

// Tools holds the per-MCP-session current domains.
type Tools struct {
	store  *session.Store
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]string // MCP session id -> domain
}

// New creates the browser tools over store.
func New(store *session.Store, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{store: store, logger: logger, current: make(map[string]string)}
}

// Register adds every browser tool to reg. Browser tools are pro only.
func (t *Tools) Register(reg *mcprt.Registry) error {
	pro := []mcprt.Mode{mcprt.ModePro}
	refProp := mcprt.Prop{Name: "ref", Schema: mcprt.Integer("Element ref from the last scraping_browser_snapshot"), Required: true}
	elementProp := mcprt.Prop{Name: "element", Schema: mcprt.String("Short description of the element, for the log")}

	return reg.Add(
		&mcprt.Tool{
			Name:        "scraping_browser_navigate",
			Title:       "Navigate",
			Description: "Navigate the remote browser to a URL. Each hostname gets its own isolated browser session.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "url", Schema: mcprt.String("Absolute http(s) URL"), Required: true},
				{Name: "keep_requests", Schema: mcprt.Boolean("Keep the recorded network requests instead of clearing them")},
			}),
			Modes:   pro,
			Handler: t.navigate,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_go_back",
			Title:       "Go back",
			Description: "Go back to the previous page.",
			InputSchema: mcprt.Object(nil),
			Modes:       pro,
			Handler:     t.goBack,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_go_forward",
			Title:       "Go forward",
			Description: "Go forward to the next page.",
			InputSchema: mcprt.Object(nil),
			Modes:       pro,
			Handler:     t.goForward,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_snapshot",
			Title:       "Snapshot",
			Description: "Capture an accessibility snapshot of the current page. Lists interactive elements with refs to use in click, type, wait and scroll tools. Set full to list every node.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "full", Schema: mcprt.Boolean("Return every accessibility node, not only interactive ones")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.snapshot,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_click_ref",
			Title:       "Click",
			Description: "Click an element by its ref from the last snapshot.",
			InputSchema: mcprt.Object([]mcprt.Prop{refProp, elementProp}),
			Modes:       pro,
			Handler:     t.click,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_type_ref",
			Title:       "Type",
			Description: "Type text into an element by its ref from the last snapshot, optionally pressing Enter afterwards.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				refProp,
				elementProp,
				{Name: "text", Schema: mcprt.String("Text to type"), Required: true},
				{Name: "submit", Schema: mcprt.Boolean("Press Enter after typing")},
			}),
			Modes:   pro,
			Handler: t.typeText,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_wait_for_ref",
			Title:       "Wait for element",
			Description: "Wait until an element from the last snapshot is visible.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				refProp,
				elementProp,
				{Name: "timeout", Schema: mcprt.Integer("Timeout in milliseconds, default 30000")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.waitFor,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_screenshot",
			Title:       "Screenshot",
			Description: "Take a PNG screenshot of the current page.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "full_page", Schema: mcprt.Boolean("Capture the whole scrollable page, not just the viewport")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.screenshot,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_get_text",
			Title:       "Get text",
			Description: "Get the text content of the current page, as plain text or markdown.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "format", Schema: mcprt.Enum("Output format, default plain", formatPlain, formatMarkdown)},
				{Name: "main_only", Schema: mcprt.Boolean("Markdown only: keep the main content region, dropping navigation and footers")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.getText,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_get_html",
			Title:       "Get HTML",
			Description: fmt.Sprintf("Get the HTML of the current page, capped at %d bytes. Optionally restrict it to a CSS selector or strip scripts and styles.", MaxHTMLBytes),
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "selector", Schema: mcprt.String("Simple CSS selector (tag, .class, #id, [attr=value], descendants, comma alternatives)")},
				{Name: "sanitize", Schema: mcprt.Boolean("Remove scripts, styles and event handlers")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.getHTML,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_links",
			Title:       "Links",
			Description: "List the links of the current page with their text and absolute URL.",
			InputSchema: mcprt.Object(nil),
			Modes:       pro,
			ReadOnly:    true,
			Handler:     t.links,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_scroll",
			Title:       "Scroll",
			Description: "Scroll the current page.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "direction", Schema: mcprt.Enum("Scroll direction, default down", "down", "up", "bottom", "top")},
				{Name: "pixels", Schema: mcprt.Integer("Distance for up/down, default one screen (800)")},
			}),
			Modes:   pro,
			Handler: t.scroll,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_scroll_to_ref",
			Title:       "Scroll to element",
			Description: "Scroll an element from the last snapshot into view.",
			InputSchema: mcprt.Object([]mcprt.Prop{refProp, elementProp}),
			Modes:       pro,
			Handler:     t.scrollTo,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_network_requests",
			Title:       "Network requests",
			Description: "List the network requests recorded since the last navigation or clear, oldest first.",
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "limit", Schema: mcprt.Integer("Return only the most recent N requests")},
			}),
			Modes:    pro,
			ReadOnly: true,
			Handler:  t.networkRequests,
		},
		&mcprt.Tool{
			Name:        "scraping_browser_clear_requests",
			Title:       "Clear requests",
			Description: "Clear the recorded network requests of the current page.",
			InputSchema: mcprt.Object(nil),
			Modes:       pro,
			Handler:     t.clearRequests,
		},
	)
}

// active returns the session of the caller's current domain.
func (t *Tools) active(ctx context.Context) (*session.Session, error) {
	key := kit.GetSessionID(ctx)
	t.mu.Lock()
	domain, ok := t.current[key]
	t.mu.Unlock()
	if !ok {
		return nil, toolerr.User("no page is open: call scraping_browser_navigate first")
	}
	s, ok := t.store.Get(domain)
	if !ok {
		return nil, toolerr.User("the browser session for %s was closed: call scraping_browser_navigate again", domain)
	}
	return s, nil
}

func (t *Tools) setCurrent(ctx context.Context, domain string) {
	key := kit.GetSessionID(ctx)
	t.mu.Lock()
	prev := t.current[key]
	t.current[key] = domain
	t.mu.Unlock()
	if prev != "" && prev != domain {
		t.logger.Debug("browsertools: current domain changed", "mcp_session", key, "from", prev, "to", domain)
	}
}

// Current returns the current domain of an MCP session.
func (t *Tools) Current(mcpSessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.current[mcpSessionID]
	return d, ok
}

type refArgs struct {
	Ref     int    `json:"ref"`
	Element string `json:"element"`
}

func bindRef(args json.RawMessage, v any, ref *int) error {
	if err := mcprt.Bind(args, v); err != nil {
		return err
	}
	if *ref <= 0 {
		return toolerr.User("ref must be a positive element ref from the last snapshot")
	}
	return nil
}
