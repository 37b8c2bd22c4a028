package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musicaftersex/brightdata-mcp/snapshot"
)

var errTransport = errors.New("websocket: close 1006 (abnormal closure)")

// fakeConnector is an in-memory remote browser. Pages survive a dropped
// connection unless forgetPages is set, like a remote browser session that
// outlives its websocket.
type fakeConnector struct {
	mu          sync.Mutex
	dials       int
	failDials   int // remaining dials to refuse
	forgetPages bool
	conns       []*fakeConn
	pages       map[string]*fakePage
	nextPage    atomic.Int64
	tree        *snapshot.Node
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{pages: make(map[string]*fakePage)}
}

func (c *fakeConnector) Connect(ctx context.Context, ep Endpoint) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	if c.failDials > 0 {
		c.failDials--
		return nil, fmt.Errorf("dial %s: connection refused", ep.Address)
	}
	conn := &fakeConn{c: c, ep: ep}
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *fakeConnector) dialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// drop kills the live connection of every session on domain.
func (c *fakeConnector) drop(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		if conn.ep.Domain == domain {
			conn.dead.Store(true)
		}
	}
	if c.forgetPages {
		for id, p := range c.pages {
			if p.domain == domain {
				delete(c.pages, id)
			}
		}
	}
}

func (c *fakeConnector) setFailDials(n int) {
	c.mu.Lock()
	c.failDials = n
	c.mu.Unlock()
}

type fakeConn struct {
	c    *fakeConnector
	ep   Endpoint
	dead atomic.Bool
}

func (fc *fakeConn) NewPage(ctx context.Context) (Page, error) {
	if fc.dead.Load() {
		return nil, errTransport
	}
	p := &fakePage{
		id:     fmt.Sprintf("page-%d", fc.c.nextPage.Add(1)),
		domain: fc.ep.Domain,
		conn:   fc,
		tree:   fc.c.tree,
	}
	fc.c.mu.Lock()
	fc.c.pages[p.id] = p
	fc.c.mu.Unlock()
	return p, nil
}

func (fc *fakeConn) Attach(ctx context.Context, pageID string) (Page, error) {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	p, ok := fc.c.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("no target with id %s", pageID)
	}
	p.mu.Lock()
	p.conn = fc
	p.mu.Unlock()
	return p, nil
}

func (fc *fakeConn) Ping(ctx context.Context) error {
	if fc.dead.Load() {
		return errTransport
	}
	return nil
}

func (fc *fakeConn) Close() error {
	fc.dead.Store(true)
	return nil
}

type fakePage struct {
	id     string
	domain string
	tree   *snapshot.Node

	mu      sync.Mutex
	conn    *fakeConn
	url     string
	clicked []int64
	sinks   []*fakeSink
	reqSeq  int
}

type fakeSink struct {
	ch     chan NetworkEvent
	closed bool
}

func (p *fakePage) alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.dead.Load() {
		return errTransport
	}
	return nil
}

func (p *fakePage) ID() string { return p.id }

// emit delivers a request/response pair to every open subscription.
func (p *fakePage) emit(url string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqSeq++
	id := fmt.Sprintf("%s-req-%d", p.id, p.reqSeq)
	now := time.Now()
	for _, s := range p.sinks {
		if s.closed {
			continue
		}
		s.ch <- NetworkEvent{Kind: EventRequest, RequestID: id, Method: "GET", URL: url, At: now}
		s.ch <- NetworkEvent{Kind: EventResponse, RequestID: id, URL: url, Status: status, At: now}
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.emit(url, 200)
	return nil
}

func (p *fakePage) NavigateBack(ctx context.Context) error    { return p.alive() }
func (p *fakePage) NavigateForward(ctx context.Context) error { return p.alive() }

func (p *fakePage) Info(ctx context.Context) (PageInfo, error) {
	if err := p.alive(); err != nil {
		return PageInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PageInfo{URL: p.url, Title: p.domain}, nil
}

func (p *fakePage) AXTree(ctx context.Context) (*snapshot.Node, error) {
	if err := p.alive(); err != nil {
		return nil, err
	}
	return p.tree, nil
}

func (p *fakePage) Events(ctx context.Context) (<-chan NetworkEvent, error) {
	s := &fakeSink{ch: make(chan NetworkEvent, 64)}
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		s.closed = true
		close(s.ch)
		p.mu.Unlock()
	}()
	return s.ch, nil
}

func (p *fakePage) Click(ctx context.Context, locator int64) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicked = append(p.clicked, locator)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Type(ctx context.Context, locator int64, text string, submit bool) error {
	return p.alive()
}
func (p *fakePage) WaitVisible(ctx context.Context, locator int64) error    { return p.alive() }
func (p *fakePage) ScrollIntoView(ctx context.Context, locator int64) error { return p.alive() }
func (p *fakePage) ScrollBy(ctx context.Context, dx, dy float64) error      { return p.alive() }

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return []byte("\x89PNG"), p.alive()
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return "<html><body>" + p.domain + "</body></html>", p.alive()
}

func (p *fakePage) Text(ctx context.Context) (string, error) { return p.domain, p.alive() }

func (p *fakePage) Close() error { return nil }
