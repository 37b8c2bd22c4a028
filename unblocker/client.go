// CLAUDE:SUMMARY Client for the upstream unblocking, SERP, dataset and zone APIs over the connectivity middleware chain.
// Package unblocker talks to the upstream scraping API: unblocked page
// fetches, search engine result pages, dataset collections, zone management
// and the credentials of the remote browser zone.
//
// Every call goes through one connectivity chain: recovery, logging,
// metrics, circuit breaker, retry, per-call timeout, HTTP.
package unblocker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/musicaftersex/brightdata-mcp/connectivity"
	"github.com/musicaftersex/brightdata-mcp/observability"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

const (
	DefaultBaseURL = "https://api.brightdata.com"
	// DefaultPollTimeout is the ceiling for one dataset collection.
	DefaultPollTimeout = 600 * time.Second

	serviceName = "brightdata-api"
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Token        string
	UnlockerZone string
	BrowserZone  string

	// CallTimeout bounds one upstream request. Default 180s: unblocking a
	// hard target is slow.
	CallTimeout time.Duration
	// Retries is the number of retries of a temporary failure. Zero means
	// the default of 2, negative disables retries.
	Retries int

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.MetricsManager
}

// Client is safe for concurrent use.
type Client struct {
	call         connectivity.Handler
	breaker      *connectivity.CircuitBreaker
	unlockerZone string
	browserZone  string
	logger       *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option tunes a Client beyond Config.
type Option func(*Client)

// WithPollInterval sets the wait between dataset snapshot polls. Default 5s;
// non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPollTimeout sets the dataset collection ceiling. Default 600s;
// non-positive values keep the default.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *connectivity.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 180 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		breaker:      connectivity.NewCircuitBreaker(),
		unlockerZone: cfg.UnlockerZone,
		browserZone:  cfg.BrowserZone,
		logger:       cfg.Logger,
		pollInterval: 5 * time.Second,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	var httpOpts []connectivity.HTTPOption
	if cfg.HTTPClient != nil {
		httpOpts = append(httpOpts, connectivity.WithHTTPClient(cfg.HTTPClient))
	}
	c.call = connectivity.Chain(
		connectivity.Recovery(cfg.Logger),
		connectivity.Logging(cfg.Logger, serviceName),
		connectivity.WithMetrics(cfg.Metrics, serviceName),
		connectivity.WithCircuitBreaker(c.breaker, serviceName),
		connectivity.WithRetry(cfg.Retries, 500*time.Millisecond, cfg.Logger),
		connectivity.WithTimeout(cfg.CallTimeout),
	)(connectivity.HTTPTransport(cfg.BaseURL, cfg.Token, httpOpts...))
	return c
}

// UnlockerZone returns the zone used for page fetches and searches.
func (c *Client) UnlockerZone() string { return c.unlockerZone }

// BrowserZone returns the remote browser zone.
func (c *Client) BrowserZone() string { return c.browserZone }

// do sends req and maps upstream failures onto the tool error taxonomy.
func (c *Client) do(ctx context.Context, req *connectivity.Request) (*connectivity.Response, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, req *connectivity.Request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("unblocker: decode %s: %w", req.Path, err)
	}
	return nil
}

func jsonBody(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("unblocker: marshal request: %v", err))
	}
	return data
}

// classify turns upstream rejections the agent can act on into user errors.
// Auth failures stay internal: they are an operator problem.
func classify(err error) error {
	var se *connectivity.ErrStatus
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return toolerr.UserWrap(err, "upstream rejected the request (%d): %s", se.Status, se.Body)
		case http.StatusTooManyRequests:
			return toolerr.UserWrap(err, "upstream is rate limiting this account, retry later")
		}
		return err
	}
	var co *connectivity.ErrCircuitOpen
	if errors.As(err, &co) {
		return toolerr.UserWrap(err, "upstream API is failing repeatedly, retry in a minute")
	}
	return err
}
