package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/musicaftersex/brightdata-mcp/snapshot"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// RodConnector connects to a remote Chrome over CDP with go-rod.
type RodConnector struct {
	// Stealth opens pages with go-rod/stealth evasions applied.
	Stealth bool
	// NavigateTimeout bounds one page load. Default 60s.
	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

// Connect implements Connector. ctx bounds the dial and the handshake only.
// rod ties the event hubs of the browser and its pages to the context they
// are created with, so both are built on a background context; when ctx
// ends first the websocket is closed to abort the pending calls.
func (c *RodConnector) Connect(ctx context.Context, ep Endpoint) (Conn, error) {
	if ep.Address == "" {
		return nil, fmt.Errorf("rod: no control url for %s", ep.Domain)
	}
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, ep.Address, nil); err != nil {
		return nil, fmt.Errorf("rod: dial: %w", err)
	}
	b := rod.New().Client(cdp.New().Start(ws)).ControlURL("")
	if err := bounded(ctx, ws, b.Connect); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("rod: connect: %w", err)
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nav := c.NavigateTimeout
	if nav <= 0 {
		nav = 60 * time.Second
	}
	return &rodConn{
		browser:    b,
		ws:         ws,
		stealth:    c.Stealth,
		navTimeout: nav,
		logger:     logger.With("domain", ep.Domain),
	}, nil
}

type rodConn struct {
	browser    *rod.Browser
	ws         *cdp.WebSocket
	stealth    bool
	navTimeout time.Duration
	logger     *slog.Logger
}

// bounded runs fn and gives up when ctx ends first, closing ws so that fn
// returns before bounded does.
func bounded(ctx context.Context, ws *cdp.WebSocket, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = ws.Close()
		<-done
		return ctx.Err()
	}
}

func (c *rodConn) NewPage(ctx context.Context) (Page, error) {
	var p *rod.Page
	err := bounded(ctx, c.ws, func() (err error) {
		if c.stealth {
			p, err = stealth.Page(c.browser)
		} else {
			p, err = c.browser.Page(proto.TargetCreateTarget{})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rod: create page: %w", err)
	}
	return c.wrap(p), nil
}

func (c *rodConn) Attach(ctx context.Context, pageID string) (Page, error) {
	var p *rod.Page
	err := bounded(ctx, c.ws, func() (err error) {
		p, err = c.browser.PageFromTarget(proto.TargetTargetID(pageID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rod: attach %s: %w", pageID, err)
	}
	return c.wrap(p), nil
}

func (c *rodConn) wrap(p *rod.Page) *rodPage {
	return &rodPage{page: p, navTimeout: c.navTimeout, logger: c.logger}
}

func (c *rodConn) Ping(ctx context.Context) error {
	_, err := c.browser.Context(ctx).Version()
	return err
}

func (c *rodConn) Close() error {
	err := c.browser.Close()
	if cerr := c.ws.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

const closeTimeout = 10 * time.Second

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
	logger     *slog.Logger
}

func (p *rodPage) ID() string { return string(p.page.TargetID) }

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		var navErr *rod.NavigationError
		if errors.As(err, &navErr) {
			return toolerr.UserWrap(err, "navigation to %s failed: %s", url, navErr.Reason)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return toolerr.UserWrap(err, "navigation to %s timed out after %s", url, p.navTimeout)
		}
		return fmt.Errorf("rod: navigate: %w", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("rod: wait load: %w", err)
	}
	return nil
}

func (p *rodPage) NavigateBack(ctx context.Context) error {
	return p.page.Context(ctx).NavigateBack()
}

func (p *rodPage) NavigateForward(ctx context.Context) error {
	return p.page.Context(ctx).NavigateForward()
}

func (p *rodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, fmt.Errorf("rod: page info: %w", err)
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *rodPage) AXTree(ctx context.Context) (*snapshot.Node, error) {
	res, err := proto.AccessibilityGetFullAXTree{}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("rod: accessibility tree: %w", err)
	}
	return snapshot.FromAXNodes(res.Nodes), nil
}

func (p *rodPage) Events(ctx context.Context) (<-chan NetworkEvent, error) {
	if err := (proto.NetworkEnable{}).Call(p.page); err != nil {
		return nil, fmt.Errorf("rod: network enable: %w", err)
	}
	ch := make(chan NetworkEvent, 256)
	send := func(ev NetworkEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
	wait := p.page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			send(NetworkEvent{
				Kind:         EventRequest,
				RequestID:    string(ev.RequestID),
				Method:       ev.Request.Method,
				URL:          ev.Request.URL,
				ResourceType: string(ev.Type),
				At:           time.Now(),
			})
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			send(NetworkEvent{
				Kind:         EventResponse,
				RequestID:    string(ev.RequestID),
				URL:          ev.Response.URL,
				ResourceType: string(ev.Type),
				Status:       ev.Response.Status,
				StatusText:   ev.Response.StatusText,
				MIMEType:     ev.Response.MIMEType,
				At:           time.Now(),
			})
		},
	)
	go func() {
		defer close(ch)
		wait()
	}()
	return ch, nil
}

func (p *rodPage) element(ctx context.Context, locator int64) (*rod.Element, error) {
	el, err := p.page.Context(ctx).ElementFromNode(&proto.DOMNode{BackendNodeID: proto.DOMBackendNodeID(locator)})
	if err != nil {
		return nil, toolerr.UserWrap(err, "element is no longer on the page: take a new snapshot")
	}
	return el, nil
}

// actionError classifies a failed element action. Refusals the browser
// answered with are the caller's to fix; anything else is left unclassified
// so the store can check the transport.
func actionError(op string, err error) error {
	var (
		notInteractable *rod.NotInteractableError
		gone            *rod.ObjectNotFoundError
		evalErr         *rod.EvalError
		cdpErr          *cdp.Error
	)
	switch {
	case errors.As(err, &notInteractable):
		return toolerr.UserWrap(err, "%s failed: the element is not interactable, it may be hidden or covered", op)
	case errors.As(err, &gone):
		return toolerr.UserWrap(err, "element is no longer on the page: take a new snapshot")
	case errors.As(err, &evalErr):
		return toolerr.UserWrap(err, "%s failed: the page script threw an exception", op)
	case errors.As(err, &cdpErr):
		return toolerr.UserWrap(err, "%s failed: %s", op, cdpErr.Message)
	}
	return fmt.Errorf("rod: %s: %w", op, err)
}

func (p *rodPage) Click(ctx context.Context, locator int64) error {
	el, err := p.element(ctx, locator)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return actionError("scroll into view", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return actionError("click", err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, locator int64, text string, submit bool) error {
	el, err := p.element(ctx, locator)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		p.logger.Debug("rod: select all before type", "error", err)
	}
	if err := el.Input(text); err != nil {
		return actionError("type", err)
	}
	if submit {
		if err := p.page.Context(ctx).Keyboard.Type(input.Enter); err != nil {
			return fmt.Errorf("rod: submit: %w", err)
		}
	}
	return nil
}

func (p *rodPage) WaitVisible(ctx context.Context, locator int64) error {
	el, err := p.element(ctx, locator)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return actionError("wait visible", err)
	}
	return nil
}

func (p *rodPage) ScrollIntoView(ctx context.Context, locator int64) error {
	el, err := p.element(ctx, locator)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return actionError("scroll into view", err)
	}
	return nil
}

func (p *rodPage) ScrollBy(ctx context.Context, dx, dy float64) error {
	_, err := p.page.Context(ctx).Eval(`(x, y) => window.scrollBy(x, y)`, dx, dy)
	return err
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	body, err := p.page.Context(ctx).Element("body")
	if err != nil {
		return "", fmt.Errorf("rod: body: %w", err)
	}
	return body.Text()
}

// Close waits for the target to report itself destroyed, for at most
// closeTimeout.
func (p *rodPage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return p.page.Context(ctx).Close()
}
