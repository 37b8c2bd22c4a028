package browsertools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/musicaftersex/brightdata-mcp/extract"
	"github.com/musicaftersex/brightdata-mcp/guard"
	"github.com/musicaftersex/brightdata-mcp/mcprt"
	"github.com/musicaftersex/brightdata-mcp/session"
	"github.com/musicaftersex/brightdata-mcp/snapshot"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

const (
	formatPlain    = "plain"
	formatMarkdown = "markdown"

	defaultWait   = 30 * time.Second
	defaultScroll = 800
)

func (t *Tools) navigate(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		URL          string `json:"url"`
		KeepRequests bool   `json:"keep_requests"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	if _, err := guard.ValidateURL(strings.TrimSpace(a.URL)); err != nil {
		return nil, toolerr.UserWrap(err, "cannot navigate to %q: %v", a.URL, err)
	}
	var from *session.Session
	if cur, err := t.active(ctx); err == nil {
		from = cur
	}
	s, err := t.store.Navigate(ctx, from, a.URL, session.NavigateOptions{KeepRequests: a.KeepRequests})
	if err != nil {
		return nil, err
	}
	t.setCurrent(ctx, s.Domain)
	return t.pageSummary(ctx, s, "Navigated")
}

func (t *Tools) goBack(ctx context.Context, _ json.RawMessage) (*mcprt.Result, error) {
	return t.history(ctx, "Went back", session.Page.NavigateBack)
}

func (t *Tools) goForward(ctx context.Context, _ json.RawMessage) (*mcprt.Result, error) {
	return t.history(ctx, "Went forward", session.Page.NavigateForward)
}

func (t *Tools) history(ctx context.Context, verb string, move func(session.Page, context.Context) error) (*mcprt.Result, error) {
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
		return move(p, ctx)
	}); err != nil {
		return nil, err
	}
	return t.pageSummary(ctx, s, verb)
}

func (t *Tools) pageSummary(ctx context.Context, s *session.Session, verb string) (*mcprt.Result, error) {
	var info session.PageInfo
	err := t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
		var err error
		info, err = p.Info(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mcprt.Text(fmt.Sprintf("%s to %s\nTitle: %s", verb, info.URL, info.Title)), nil
}

func (t *Tools) snapshot(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Full bool `json:"full"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	c, err := t.store.CaptureSnapshot(ctx, s, !a.Full)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\nURL: %s\n\n", c.Page.Title, c.Page.URL)
	if len(c.Elements) == 0 {
		b.WriteString("(no interactive elements)\n")
	} else {
		b.WriteString(snapshot.Format(c.Elements, snapshot.Options{}))
	}
	return mcprt.Text(b.String()), nil
}

// onRef resolves the active session and runs fn against ref.
func (t *Tools) onRef(ctx context.Context, ref int, fn session.RefAction) (snapshot.Element, error) {
	s, err := t.active(ctx)
	if err != nil {
		return snapshot.Element{}, err
	}
	var target snapshot.Element
	err = t.store.DoRef(ctx, s, ref, func(ctx context.Context, p session.Page, el snapshot.Element) error {
		target = el
		return fn(ctx, p, el)
	})
	return target, err
}

func describe(el snapshot.Element) string {
	if el.Name == "" {
		return fmt.Sprintf("[%d] %s", el.Ref, el.Role)
	}
	return fmt.Sprintf("[%d] %s %q", el.Ref, el.Role, el.Name)
}

func (t *Tools) click(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a refArgs
	if err := bindRef(args, &a, &a.Ref); err != nil {
		return nil, err
	}
	el, err := t.onRef(ctx, a.Ref, func(ctx context.Context, p session.Page, el snapshot.Element) error {
		return p.Click(ctx, el.Locator)
	})
	if err != nil {
		return nil, err
	}
	return mcprt.Text("Clicked " + describe(el)), nil
}

func (t *Tools) typeText(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		refArgs
		Text   string `json:"text"`
		Submit bool   `json:"submit"`
	}
	if err := bindRef(args, &a, &a.Ref); err != nil {
		return nil, err
	}
	el, err := t.onRef(ctx, a.Ref, func(ctx context.Context, p session.Page, el snapshot.Element) error {
		return p.Type(ctx, el.Locator, a.Text, a.Submit)
	})
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Typed %q into %s", a.Text, describe(el))
	if a.Submit {
		msg += " and submitted"
	}
	return mcprt.Text(msg), nil
}

func (t *Tools) waitFor(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		refArgs
		Timeout int `json:"timeout"`
	}
	if err := bindRef(args, &a, &a.Ref); err != nil {
		return nil, err
	}
	wait := defaultWait
	if a.Timeout > 0 {
		wait = time.Duration(a.Timeout) * time.Millisecond
	}
	el, err := t.onRef(ctx, a.Ref, func(ctx context.Context, p session.Page, el snapshot.Element) error {
		wctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		err := p.WaitVisible(wctx, el.Locator)
		if err != nil && errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return toolerr.UserWrap(err, "%s did not become visible within %s", describe(el), wait)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return mcprt.Text(describe(el) + " is visible"), nil
}

func (t *Tools) scrollTo(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a refArgs
	if err := bindRef(args, &a, &a.Ref); err != nil {
		return nil, err
	}
	el, err := t.onRef(ctx, a.Ref, func(ctx context.Context, p session.Page, el snapshot.Element) error {
		return p.ScrollIntoView(ctx, el.Locator)
	})
	if err != nil {
		return nil, err
	}
	return mcprt.Text("Scrolled " + describe(el) + " into view"), nil
}

func (t *Tools) scroll(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Direction string `json:"direction"`
		Pixels    int    `json:"pixels"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	if a.Pixels < 0 {
		return nil, toolerr.User("pixels must not be negative")
	}
	dist := float64(defaultScroll)
	if a.Pixels > 0 {
		dist = float64(a.Pixels)
	}
	// Large enough to hit either end of any page.
	const edge = 1e7
	var dy float64
	switch a.Direction {
	case "", "down":
		a.Direction, dy = "down", dist
	case "up":
		dy = -dist
	case "bottom":
		dy = edge
	case "top":
		dy = -edge
	default:
		return nil, toolerr.User("unknown direction %q (use down, up, bottom or top)", a.Direction)
	}
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
		return p.ScrollBy(ctx, 0, dy)
	}); err != nil {
		return nil, err
	}
	return mcprt.Text("Scrolled " + a.Direction), nil
}

func (t *Tools) screenshot(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		FullPage bool `json:"full_page"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	var png []byte
	if err := t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
		png, err = p.Screenshot(ctx, a.FullPage)
		return err
	}); err != nil {
		return nil, err
	}
	return &mcprt.Result{Image: png, ImageMIME: "image/png"}, nil
}

// pageHTML reads the active page's HTML and URL in one locked action.
func (t *Tools) pageHTML(ctx context.Context) (string, session.PageInfo, error) {
	s, err := t.active(ctx)
	if err != nil {
		return "", session.PageInfo{}, err
	}
	var (
		src  string
		info session.PageInfo
	)
	err = t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
		var err error
		if info, err = p.Info(ctx); err != nil {
			return err
		}
		src, err = p.HTML(ctx)
		return err
	})
	return src, info, err
}

func (t *Tools) getText(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Format   string `json:"format"`
		MainOnly bool   `json:"main_only"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	var out string
	switch a.Format {
	case "", formatPlain:
		s, err := t.active(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.store.Do(ctx, s, func(ctx context.Context, p session.Page) error {
			out, err = p.Text(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	case formatMarkdown:
		src, info, err := t.pageHTML(ctx)
		if err != nil {
			return nil, err
		}
		if a.MainOnly {
			if src, err = extract.MainContent(src); err != nil {
				return nil, err
			}
		}
		if out, err = extract.Markdown(src, info.URL); err != nil {
			return nil, err
		}
	default:
		return nil, toolerr.User("unknown format %q (use plain or markdown)", a.Format)
	}
	out, _ = extract.Truncate(out, MaxTextBytes)
	return mcprt.Text(out), nil
}

func (t *Tools) getHTML(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Selector string `json:"selector"`
		Sanitize bool   `json:"sanitize"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	src, _, err := t.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	if sel := strings.TrimSpace(a.Selector); sel != "" {
		parts, err := extract.Select(src, sel)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, toolerr.User("no element matches selector %q", sel)
		}
		src = strings.Join(parts, "\n")
	}
	if a.Sanitize {
		src = extract.Sanitize(src)
	}
	src, _ = extract.Truncate(src, MaxHTMLBytes)
	return mcprt.Text(src), nil
}

func (t *Tools) links(ctx context.Context, _ json.RawMessage) (*mcprt.Result, error) {
	src, info, err := t.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	links, err := extract.Links(src, info.URL)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []extract.Link{}
	}
	return mcprt.JSON(links)
}

func (t *Tools) networkRequests(ctx context.Context, args json.RawMessage) (*mcprt.Result, error) {
	var a struct {
		Limit int `json:"limit"`
	}
	if err := mcprt.Bind(args, &a); err != nil {
		return nil, err
	}
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	entries := t.store.Requests(s)
	if a.Limit > 0 && len(entries) > a.Limit {
		entries = entries[len(entries)-a.Limit:]
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	return mcprt.JSON(entries)
}

func (t *Tools) clearRequests(ctx context.Context, _ json.RawMessage) (*mcprt.Result, error) {
	s, err := t.active(ctx)
	if err != nil {
		return nil, err
	}
	t.store.ClearRequests(s)
	return mcprt.Text("Cleared network requests for " + s.Domain), nil
}
