package browsertools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/musicaftersex/brightdata-mcp/kit"
	"github.com/musicaftersex/brightdata-mcp/mcprt"
	"github.com/musicaftersex/brightdata-mcp/session"
	"github.com/musicaftersex/brightdata-mcp/snapshot"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// browser is an in-memory remote browser: one page per connection, HTML
// served per domain.
type browser struct {
	mu    sync.Mutex
	html  map[string]string
	tree  *snapshot.Node
	pages []*page
}

func (b *browser) Connect(ctx context.Context, ep session.Endpoint) (session.Conn, error) {
	return &conn{b: b, domain: ep.Domain}, nil
}

func (b *browser) lastPage() *page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[len(b.pages)-1]
}

type conn struct {
	b      *browser
	domain string
}

func (c *conn) NewPage(ctx context.Context) (session.Page, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	p := &page{b: c.b, id: fmt.Sprintf("page-%d", len(c.b.pages)+1), domain: c.domain, events: make(chan session.NetworkEvent, 16)}
	c.b.pages = append(c.b.pages, p)
	return p, nil
}

func (c *conn) Attach(ctx context.Context, id string) (session.Page, error) {
	return nil, fmt.Errorf("no target %s", id)
}
func (c *conn) Ping(ctx context.Context) error { return nil }
func (c *conn) Close() error                   { return nil }

type page struct {
	b      *browser
	id     string
	domain string
	events chan session.NetworkEvent

	mu       sync.Mutex
	url      string
	clicked  []int64
	typed    []string
	scrolled []float64
	full     bool
}

func (p *page) ID() string { return p.id }

func (p *page) Navigate(ctx context.Context, u string) error {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
	now := time.Now()
	p.events <- session.NetworkEvent{Kind: session.EventRequest, RequestID: u, Method: "GET", URL: u, At: now}
	p.events <- session.NetworkEvent{Kind: session.EventResponse, RequestID: u, URL: u, Status: 200, At: now}
	return nil
}

func (p *page) NavigateBack(ctx context.Context) error    { return nil }
func (p *page) NavigateForward(ctx context.Context) error { return nil }

func (p *page) Info(ctx context.Context) (session.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return session.PageInfo{URL: p.url, Title: "Title of " + p.domain}, nil
}

func (p *page) AXTree(ctx context.Context) (*snapshot.Node, error) { return p.b.tree, nil }

func (p *page) Events(ctx context.Context) (<-chan session.NetworkEvent, error) {
	out := make(chan session.NetworkEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *page) Click(ctx context.Context, locator int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, locator)
	return nil
}

func (p *page) Type(ctx context.Context, locator int64, text string, submit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, fmt.Sprintf("%d:%s:%v", locator, text, submit))
	return nil
}

// WaitVisible never sees the element appear.
func (p *page) WaitVisible(ctx context.Context, locator int64) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *page) ScrollIntoView(ctx context.Context, locator int64) error { return nil }

func (p *page) ScrollBy(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled = append(p.scrolled, dy)
	return nil
}

func (p *page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	p.full = fullPage
	p.mu.Unlock()
	return []byte("\x89PNG\r\n"), nil
}

func (p *page) HTML(ctx context.Context) (string, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.html[p.domain], nil
}

func (p *page) Text(ctx context.Context) (string, error) { return "text of " + p.domain, nil }
func (p *page) Close() error                             { return nil }

const shopHTML = `<html><body>
<nav><a href="/">Home</a></nav>
<main><h1>Kettle</h1><p>A stainless kettle that boils a litre of water in under three minutes, with auto shut-off.</p>
<a href="/cart">Cart</a><script>track()</script></main>
</body></html>`

func newTools(t *testing.T) (*mcprt.Registry, *browser) {
	t.Helper()
	b := &browser{
		html: map[string]string{"shop.example.com": shopHTML, "news.example.org": "<p>news</p>"},
		tree: &snapshot.Node{Role: "RootWebArea", Name: "Shop", Children: []*snapshot.Node{
			{Role: "link", Name: "Home", Locator: 11},
			{Role: "generic", Children: []*snapshot.Node{
				{Role: "textbox", Name: "Search", Locator: 12},
				{Role: "button", Name: "Go", Locator: 13},
			}},
		}},
	}
	store := session.NewStore(b, session.WithLogger(quietLogger()), session.WithRetryPolicy(session.RetryPolicy{Attempts: 1}))
	t.Cleanup(func() { store.CloseAll() })

	reg := mcprt.NewRegistry()
	if err := New(store, quietLogger()).Register(reg); err != nil {
		t.Fatal(err)
	}
	return reg, b
}

func call(t *testing.T, ctx context.Context, reg *mcprt.Registry, name, args string) (*mcprt.Result, error) {
	t.Helper()
	tool, ok := reg.Get(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return tool.Handler(ctx, json.RawMessage(args))
}

func mustCall(t *testing.T, ctx context.Context, reg *mcprt.Registry, name, args string) *mcprt.Result {
	t.Helper()
	res, err := call(t, ctx, reg, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestRegister_AllProOnly(t *testing.T) {
	reg, _ := newTools(t)
	if base := reg.ForMode(mcprt.ModeBase); len(base) != 0 {
		t.Fatalf("browser tools in base mode: %d", len(base))
	}
	if pro := reg.ForMode(mcprt.ModePro); len(pro) != 15 {
		t.Fatalf("pro tools = %d, want 15", len(pro))
	}
}

func TestToolsBeforeNavigate(t *testing.T) {
	reg, _ := newTools(t)
	for _, name := range []string{"scraping_browser_snapshot", "scraping_browser_get_text", "scraping_browser_network_requests"} {
		if _, err := call(t, context.Background(), reg, name, `{}`); !toolerr.IsUser(err) {
			t.Errorf("%s: err = %v, want user error", name, err)
		}
	}
}

func TestNavigate_RejectsPrivateTargets(t *testing.T) {
	reg, _ := newTools(t)
	for _, u := range []string{"http://localhost:3000", "file:///etc/passwd", "http://192.168.1.1/"} {
		if _, err := call(t, context.Background(), reg, "scraping_browser_navigate", `{"url":"`+u+`"}`); !toolerr.IsUser(err) {
			t.Errorf("%s: err = %v", u, err)
		}
	}
}

func TestSnapshotAndRefActions(t *testing.T) {
	reg, b := newTools(t)
	ctx := context.Background()

	res := mustCall(t, ctx, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/kettle"}`)
	if !strings.Contains(res.Text, "https://shop.example.com/kettle") || !strings.Contains(res.Text, "Title of shop.example.com") {
		t.Fatalf("navigate = %q", res.Text)
	}

	if _, err := call(t, ctx, reg, "scraping_browser_click_ref", `{"ref":1}`); !toolerr.IsUser(err) {
		t.Fatalf("click before snapshot: %v", err)
	}

	snap := mustCall(t, ctx, reg, "scraping_browser_snapshot", `{}`)
	want := "[1] link \"Home\"\n[2] textbox \"Search\"\n[3] button \"Go\"\n"
	if !strings.HasSuffix(snap.Text, want) {
		t.Fatalf("snapshot =\n%s", snap.Text)
	}

	res = mustCall(t, ctx, reg, "scraping_browser_click_ref", `{"ref":3,"element":"Go button"}`)
	if res.Text != `Clicked [3] button "Go"` {
		t.Fatalf("click = %q", res.Text)
	}
	mustCall(t, ctx, reg, "scraping_browser_type_ref", `{"ref":2,"text":"kettle","submit":true}`)
	mustCall(t, ctx, reg, "scraping_browser_scroll_to_ref", `{"ref":1}`)

	p := b.lastPage()
	p.mu.Lock()
	clicked, typed := p.clicked, p.typed
	p.mu.Unlock()
	if len(clicked) != 1 || clicked[0] != 13 {
		t.Fatalf("clicked = %v", clicked)
	}
	if len(typed) != 1 || typed[0] != "12:kettle:true" {
		t.Fatalf("typed = %v", typed)
	}

	if _, err := call(t, ctx, reg, "scraping_browser_click_ref", `{"ref":9}`); !toolerr.IsUser(err) {
		t.Fatalf("unknown ref: %v", err)
	}
	if _, err := call(t, ctx, reg, "scraping_browser_click_ref", `{"ref":0}`); !toolerr.IsUser(err) {
		t.Fatalf("zero ref: %v", err)
	}

	full := mustCall(t, ctx, reg, "scraping_browser_snapshot", `{"full":true}`)
	if !strings.Contains(full.Text, `[1] RootWebArea "Shop"`) {
		t.Fatalf("full snapshot =\n%s", full.Text)
	}
}

func TestWaitForRef_Timeout(t *testing.T) {
	reg, _ := newTools(t)
	ctx := context.Background()
	mustCall(t, ctx, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/"}`)
	mustCall(t, ctx, reg, "scraping_browser_snapshot", `{}`)

	_, err := call(t, ctx, reg, "scraping_browser_wait_for_ref", `{"ref":2,"timeout":10}`)
	if !toolerr.IsUser(err) || !strings.Contains(err.Error(), "did not become visible") {
		t.Fatalf("err = %v", err)
	}
}

func TestCurrentDomainPerMCPSession(t *testing.T) {
	reg, _ := newTools(t)
	alice := kit.WithSessionID(context.Background(), "mcp-a")
	bob := kit.WithSessionID(context.Background(), "mcp-b")

	mustCall(t, alice, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/"}`)
	mustCall(t, bob, reg, "scraping_browser_navigate", `{"url":"https://news.example.org/today"}`)

	if got := mustCall(t, alice, reg, "scraping_browser_get_text", `{}`).Text; got != "text of shop.example.com" {
		t.Fatalf("alice text = %q", got)
	}
	if got := mustCall(t, bob, reg, "scraping_browser_get_text", `{}`).Text; got != "text of news.example.org" {
		t.Fatalf("bob text = %q", got)
	}

	mustCall(t, alice, reg, "scraping_browser_navigate", `{"url":"https://news.example.org/"}`)
	if got := mustCall(t, alice, reg, "scraping_browser_get_text", `{}`).Text; got != "text of news.example.org" {
		t.Fatalf("alice after cross-domain navigate = %q", got)
	}
}

func TestPageContent(t *testing.T) {
	reg, _ := newTools(t)
	ctx := context.Background()
	mustCall(t, ctx, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/kettle"}`)

	md := mustCall(t, ctx, reg, "scraping_browser_get_text", `{"format":"markdown","main_only":true}`).Text
	if !strings.Contains(md, "# Kettle") || strings.Contains(md, "Home") {
		t.Fatalf("markdown = %q", md)
	}
	if _, err := call(t, ctx, reg, "scraping_browser_get_text", `{"format":"pdf"}`); !toolerr.IsUser(err) {
		t.Fatalf("bad format: %v", err)
	}

	html := mustCall(t, ctx, reg, "scraping_browser_get_html", `{"selector":"main","sanitize":true}`).Text
	if !strings.Contains(html, "<h1>Kettle</h1>") || strings.Contains(html, "track()") || strings.Contains(html, "<nav>") {
		t.Fatalf("html = %q", html)
	}
	if _, err := call(t, ctx, reg, "scraping_browser_get_html", `{"selector":"table"}`); !toolerr.IsUser(err) {
		t.Fatalf("no match: %v", err)
	}

	var links []struct{ Text, Href string }
	if err := json.Unmarshal([]byte(mustCall(t, ctx, reg, "scraping_browser_links", `{}`).Text), &links); err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 || links[1].Href != "https://shop.example.com/cart" {
		t.Fatalf("links = %+v", links)
	}
}

func TestScreenshotAndScroll(t *testing.T) {
	reg, b := newTools(t)
	ctx := context.Background()
	mustCall(t, ctx, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/"}`)

	shot := mustCall(t, ctx, reg, "scraping_browser_screenshot", `{"full_page":true}`)
	if shot.ImageMIME != "image/png" || len(shot.Image) == 0 {
		t.Fatalf("screenshot = %+v", shot)
	}

	mustCall(t, ctx, reg, "scraping_browser_scroll", `{}`)
	mustCall(t, ctx, reg, "scraping_browser_scroll", `{"direction":"up","pixels":100}`)
	if _, err := call(t, ctx, reg, "scraping_browser_scroll", `{"direction":"sideways"}`); !toolerr.IsUser(err) {
		t.Fatalf("bad direction: %v", err)
	}

	p := b.lastPage()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		t.Fatal("full_page not forwarded")
	}
	if len(p.scrolled) != 2 || p.scrolled[0] != defaultScroll || p.scrolled[1] != -100 {
		t.Fatalf("scrolled = %v", p.scrolled)
	}
}

func TestNetworkRequests(t *testing.T) {
	reg, _ := newTools(t)
	ctx := context.Background()
	mustCall(t, ctx, reg, "scraping_browser_navigate", `{"url":"https://shop.example.com/"}`)

	var entries []session.Entry
	deadline := time.Now().Add(2 * time.Second)
	for {
		res := mustCall(t, ctx, reg, "scraping_browser_network_requests", `{}`)
		entries = nil
		if err := json.Unmarshal([]byte(res.Text), &entries); err != nil {
			t.Fatal(err)
		}
		if len(entries) == 1 && entries[0].Status == 200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entries = %+v", entries)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if entries[0].URL != "https://shop.example.com/" {
		t.Fatalf("entry = %+v", entries[0])
	}

	mustCall(t, ctx, reg, "scraping_browser_clear_requests", `{}`)
	res := mustCall(t, ctx, reg, "scraping_browser_network_requests", `{}`)
	if strings.TrimSpace(res.Text) != "[]" {
		t.Fatalf("after clear = %s", res.Text)
	}
}
