// CLAUDE:SUMMARY Search, scrape, batch, dataset and stats tools backed by the unblocker API.
// Package datatools registers the data tools: search engine result pages,
// unblocked page scrapes, their batch variants, structured dataset
// collections and the server's own call statistics.
package datatools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/musicaftersex/brightdata-mcp/dispatch"
	"github.com/musicaftersex/brightdata-mcp/guard"
	"github.com/musicaftersex/brightdata-mcp/mcprt"
	"github.com/musicaftersex/brightdata-mcp/observability"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
	"github.com/musicaftersex/brightdata-mcp/unblocker"
)

// MaxBatch bounds the batch tools.
const MaxBatch = 10

// Upstream is what the data tools need from the unblocker API.
type Upstream interface {
	Scrape(ctx context.Context, rawURL string, format unblocker.Format) (string, error)
	Search(ctx context.Context, engine unblocker.Engine, query, cursor string) (string, error)
	Collect(ctx context.Context, datasetID string, input map[string]any) (json.RawMessage, error)
}

// Deps are the collaborators of the data tools.
type Deps struct {
	Upstream   Upstream
	Dispatcher *dispatch.Dispatcher
	// Audit is optional; session_stats adds persisted totals when set.
	Audit    *observability.AuditLogger
	Datasets []Dataset
	Logger   *slog.Logger
}

type tools struct {
	Deps
}

// Register adds the data tools to reg.
func Register(reg *mcprt.Registry, deps Deps) error {
	if deps.Upstream == nil {
		return fmt.Errorf("datatools: upstream is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	t := &tools{Deps: deps}

	engines := make([]string, len(unblocker.Engines))
	for i, e := range unblocker.Engines {
		engines[i] = string(e)
	}
	searchProps := []mcprt.Prop{
		{Name: "query", Schema: mcprt.String("Search query"), Required: true},
		{Name: "engine", Schema: mcprt.Enum("Search engine, default google", engines...)},
		{Name: "cursor", Schema: mcprt.String("Zero-based result page number, for pagination")},
	}
	urlProp := []mcprt.Prop{{Name: "url", Schema: mcprt.String("Page URL"), Required: true}}

	list := []*mcprt.Tool{
		{
			Name:        "search_engine",
			Title:       "Search engine",
			Description: "Scrape search results from Google, Bing or Yandex. Returns the result page as markdown with URLs and titles.",
			InputSchema: mcprt.Object(searchProps),
			Modes:       []mcprt.Mode{mcprt.ModeBase},
			ReadOnly:    true,
			Handler:     t.search,
		},
		{
			Name:        "scrape_as_markdown",
			Title:       "Scrape as markdown",
			Description: "Scrape a single webpage URL with advanced options for content extraction and get back the results in markdown. Handles bot detection and CAPTCHA.",
			InputSchema: mcprt.Object(urlProp),
			Modes:       []mcprt.Mode{mcprt.ModeBase},
			ReadOnly:    true,
			Handler:     t.scrapeMarkdown,
		},
		{
			Name:        "session_stats",
			Title:       "Session stats",
			Description: "Report how many times each tool was called in this server process, with outcome counts and the rate limit window.",
			InputSchema: mcprt.Object(nil),
			Modes:       []mcprt.Mode{mcprt.ModeBase},
			ReadOnly:    true,
			Handler:     t.stats,
		},
		{
			Name:        "search_engine_batch",
			Title:       "Search engine batch",
			Description: fmt.Sprintf("Run up to %d search queries concurrently. Returns a JSON array with one result or error per query.", MaxBatch),
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "queries", Schema: mcprt.Array("Queries to run", mcprt.Object(searchProps), MaxBatch), Required: true},
			}),
			Modes:    []mcprt.Mode{mcprt.ModePro},
			ReadOnly: true,
			Handler:  t.searchBatch,
		},
		{
			Name:        "scrape_batch",
			Title:       "Scrape batch",
			Description: fmt.Sprintf("Scrape up to %d webpages concurrently as markdown. Returns a JSON array with one result or error per URL.", MaxBatch),
			InputSchema: mcprt.Object([]mcprt.Prop{
				{Name: "urls", Schema: mcprt.Array("URLs to scrape", mcprt.String("Page URL"), MaxBatch), Required: true},
			}),
			Modes:    []mcprt.Mode{mcprt.ModePro},
			ReadOnly: true,
			Handler:  t.scrapeBatch,
		},
		{
			Name:        "scrape_as_html",
			Title:       "Scrape as HTML",
			Description: "Scrape a single webpage URL and get back the raw HTML. Handles bot detection and CAPTCHA.",
			InputSchema: mcprt.Object(urlProp),
			Modes:       []mcprt.Mode{mcprt.ModePro},
			ReadOnly:    true,
			Handler:     t.scrapeHTML,
		},
	}
	for _, d := range deps.Datasets {
		list = append(list, t.datasetTool(d))
	}
	return reg.Add(list...)
}

type searchArgs struct {
	Query  string `json:"query"`
	Engine string `json:"engine"`
	Cursor string `json:"cursor"`
}

type urlArgs struct {
	URL string `json:"url"`
}

func (t *tools) search(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a searchArgs
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	md, err := t.Upstream.Search(ctx, unblocker.Engine(a.Engine), a.Query, a.Cursor)
	if err != nil {
		return nil, err
	}
	return mcprt.Text(md), nil
}

func (t *tools) scrapeMarkdown(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	return t.scrape(ctx, args, unblocker.FormatMarkdown)
}

func (t *tools) scrapeHTML(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	return t.scrape(ctx, args, unblocker.FormatHTML)
}

func (t *tools) scrape(ctx context.Context, args json.RawMessage, format unblocker.Format) (*mcprt.Result, error) {
	var a urlArgs
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	u, err := checkURL(a.URL)
	if err != nil {
		return nil, err
	}
	body, err := t.Upstream.Scrape(ctx, u, format)
	if err != nil {
		return nil, err
	}
	return mcprt.Text(body), nil
}

// batchItem is one entry of a batch tool reply.
type batchItem struct {
	Query   string `json:"query,omitempty"`
	Engine  string `json:"engine,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (t *tools) searchBatch(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Queries []searchArgs `json:"queries"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	if err := checkBatch(len(a.Queries), "queries"); err != nil {
		return nil, err
	}
	out := make([]batchItem, len(a.Queries))
	t.fanOut(ctx, len(a.Queries), func(ctx context.Context, i int) {
		q := a.Queries[i]
		engine := q.Engine
		if engine == "" {
			engine = string(unblocker.Google)
		}
		out[i] = batchItem{Query: q.Query, Engine: engine}
		md, err := t.Upstream.Search(ctx, unblocker.Engine(engine), q.Query, q.Cursor)
		out[i].Content, out[i].Error = md, t.itemError("search_engine_batch", err)
	})
	return mcprt.JSON(out)
}

func (t *tools) scrapeBatch(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		URLs []string `json:"urls"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	if err := checkBatch(len(a.URLs), "urls"); err != nil {
		return nil, err
	}
	out := make([]batchItem, len(a.URLs))
	t.fanOut(ctx, len(a.URLs), func(ctx context.Context, i int) {
		out[i] = batchItem{URL: a.URLs[i]}
		u, err := checkURL(a.URLs[i])
		if err == nil {
			out[i].Content, err = t.Upstream.Scrape(ctx, u, unblocker.FormatMarkdown)
		}
		out[i].Error = t.itemError("scrape_batch", err)
	})
	return mcprt.JSON(out)
}

// fanOut runs fn for 0..n-1 concurrently. Items fail individually, so fn
// records its own error and the group never cancels its siblings.
func (t *tools) fanOut(ctx context.Context, n int, fn func(context.Context, int)) {
	var g errgroup.Group
	g.SetLimit(MaxBatch)
	for i := range n {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// itemError returns the message a batch item shows for err. Internal
// failures are logged and replaced by the generic message.
func (t *tools) itemError(tool string, err error) string {
	if err == nil {
		return ""
	}
	if !toolerr.IsUser(err) && !toolerr.IsConnection(err) {
		t.Logger.Error("datatools: batch item failed", "tool", tool, "error", err)
	}
	return toolerr.Public(err)
}

func (t *tools) datasetTool(d Dataset) *mcprt.Tool {
	props := make([]mcprt.Prop, 0, len(d.Inputs))
	for _, in := range d.Inputs {
		desc := in
		if in == "url" {
			desc = "Target URL"
		}
		props = append(props, mcprt.Prop{Name: in, Schema: mcprt.String(desc), Required: true})
	}
	return &mcprt.Tool{
		Name:        d.ToolName(),
		Title:       strings.ReplaceAll(d.ID, "_", " "),
		Description: d.Description + " Triggers a collection and waits for the result, which can take several minutes.",
		InputSchema: mcprt.Object(props),
		Modes:       []mcprt.Mode{mcprt.ModePro},
		ReadOnly:    true,
		Handler: func(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
			var a map[string]any
			if err := mcprt.Bind(args, &a); err != nil {
				return nil, err
			}
			input := make(map[string]any, len(d.Inputs)+len(d.Defaults))
			for k, v := range d.Defaults {
				input[k] = v
			}
			for _, in := range d.Inputs {
				s, _ := a[in].(string)
				s = strings.TrimSpace(s)
				if s == "" {
					return nil, toolerr.User("%s is required", in)
				}
				if in == "url" {
					u, err := checkURL(s)
					if err != nil {
						return nil, err
					}
					s = u
				}
				input[in] = s
			}
			data, err := t.Upstream.Collect(ctx, d.DatasetID, input)
			if err != nil {
				return nil, err
			}
			return mcprt.Text(string(data)), nil
		},
	}
}

// statsReply is the session_stats payload.
type statsReply struct {
	Tools     []dispatch.ToolStats          `json:"tools"`
	RateLimit *rateWindow                   `json:"rate_limit,omitempty"`
	Persisted []observability.OutcomeTotals `json:"persisted_totals,omitempty"`
}

type rateWindow struct {
	Limit  int    `json:"limit"`
	Period string `json:"period"`
	Used   int    `json:"used"`
}

func (t *tools) stats(ctx context.Context, _ json.RawMessage) (*mcprt.Result, error) {
	var reply statsReply
	if t.Dispatcher != nil {
		reply.Tools = t.Dispatcher.Stats()
		if w := t.Dispatcher.Window(); w.Limit > 0 {
			reply.RateLimit = &rateWindow{Limit: w.Limit, Period: w.Period.String(), Used: w.Count}
		}
	}
	if t.Audit != nil {
		totals, err := t.Audit.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("datatools: stats: %w", err)
		}
		reply.Persisted = totals
	}
	if reply.Tools == nil {
		reply.Tools = []dispatch.ToolStats{}
	}
	return mcprt.JSON(reply)
}

func checkURL(raw string) (string, error) {
	u, err := guard.ValidateURL(strings.TrimSpace(raw))
	if err != nil {
		return "", toolerr.UserWrap(err, "invalid url %q: %v", raw, err)
	}
	return u.String(), nil
}

func checkBatch(n int, field string) error {
	if n == 0 {
		return toolerr.User("%s must not be empty", field)
	}
	if n > MaxBatch {
		return toolerr.User("at most %d %s per call, got %d", MaxBatch, field, n)
	}
	return nil
}
