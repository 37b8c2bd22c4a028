package session

import (
	"context"
	"time"

	"github.com/musicaftersex/brightdata-mcp/snapshot"
)

// Endpoint identifies the remote browser a session connects to. Address is
// the full control URL; Token is the domain-scoped session token embedded in
// it, kept so the same remote browser session is reused on reconnect.
type Endpoint struct {
	Domain  string
	Address string
	Token   string
}

// EndpointFunc builds the endpoint for a domain and its session token.
type EndpointFunc func(domain, token string) Endpoint

// Connector opens connections to the remote browser endpoint.
type Connector interface {
	Connect(ctx context.Context, ep Endpoint) (Conn, error)
}

// Conn is one live remote-debugging connection.
type Conn interface {
	// NewPage opens a fresh page.
	NewPage(ctx context.Context) (Page, error)
	// Attach re-acquires a page that existed before the connection dropped.
	Attach(ctx context.Context, pageID string) (Page, error)
	// Ping reports whether the transport is still alive.
	Ping(ctx context.Context) error
	Close() error
}

// Page is the handle to one browser page. A Page is owned by exactly one
// Session and is never handed to callers outside Store.Do.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	NavigateForward(ctx context.Context) error
	Info(ctx context.Context) (PageInfo, error)
	AXTree(ctx context.Context) (*snapshot.Node, error)

	// Events streams request/response events in the order the browser
	// reports them. The channel is closed once ctx is done or the page goes
	// away.
	Events(ctx context.Context) (<-chan NetworkEvent, error)

	Click(ctx context.Context, locator int64) error
	Type(ctx context.Context, locator int64, text string, submit bool) error
	WaitVisible(ctx context.Context, locator int64) error
	ScrollIntoView(ctx context.Context, locator int64) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Close() error
}

// PageInfo is the page's current location.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// EventKind distinguishes request from response events.
type EventKind int

const (
	EventRequest EventKind = iota
	EventResponse
)

// NetworkEvent is one request or response notification from the browser.
type NetworkEvent struct {
	Kind         EventKind
	RequestID    string
	Method       string
	URL          string
	ResourceType string
	Status       int
	StatusText   string
	MIMEType     string
	At           time.Time
}
