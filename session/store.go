// CLAUDE:SUMMARY Per-domain remote browser sessions: connect/reconnect state machine, network log, snapshot refs, idle cleanup.
// Package session multiplexes one remote browser endpoint into isolated
// per-domain sessions.
//
// Each hostname gets its own Session with its own connection, page and
// network log. Navigating to another hostname fetches (or creates) that
// hostname's session; the session navigated away from is left untouched.
//
// A Session moves through disconnected -> connecting -> connected. When an
// action fails and the transport no longer answers a ping, the session goes
// to reconnecting and retries with exponential backoff. Re-acquiring the same
// page keeps the network log; recreating the page discards it. Exhausting the
// budget leaves the session failed, and the next GetOrCreate builds a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/musicaftersex/brightdata-mcp/connectivity"
	"github.com/musicaftersex/brightdata-mcp/idgen"
	"github.com/musicaftersex/brightdata-mcp/snapshot"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// ErrClosed is returned once CloseAll has run.
var ErrClosed = errors.New("session: store closed")

// ErrSessionGone is the cause reported when an action targets a session
// that is failed or already shut down.
var ErrSessionGone = errors.New("session is no longer connected")

// RetryPolicy bounds connect and reconnect attempts.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// Action runs against a session's page while the session is locked.
type Action func(ctx context.Context, p Page) error

// Store owns every Session. It is the only writer of session state.
type Store struct {
	connector      Connector
	endpoint       EndpointFunc
	policy         RetryPolicy
	connectTimeout time.Duration
	pingTimeout    time.Duration
	logger         *slog.Logger
	newID          idgen.Generator
	newToken       idgen.Generator
	now            func() time.Time
	onTransition   func(Transition)

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	flight   singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithEndpoint sets how a domain and token become a control URL.
func WithEndpoint(fn EndpointFunc) Option {
	return func(st *Store) { st.endpoint = fn }
}

// WithRetryPolicy sets the connect/reconnect budget.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(st *Store) { st.policy = p }
}

// WithConnectTimeout bounds a single connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(st *Store) { st.connectTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(st *Store) { st.now = fn }
}

// WithTransitionHook is called after every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(st *Store) { st.onTransition = fn }
}

// WithTokenGenerator sets the generator for domain-scoped session tokens.
func WithTokenGenerator(gen idgen.Generator) Option {
	return func(st *Store) { st.newToken = gen }
}

// NewStore creates an empty store.
func NewStore(c Connector, opts ...Option) *Store {
	st := &Store{
		connector:      c,
		policy:         DefaultRetryPolicy,
		connectTimeout: 60 * time.Second,
		pingTimeout:    5 * time.Second,
		logger:         slog.Default(),
		newID:          idgen.Prefixed("sess_", idgen.Default),
		newToken:       idgen.NanoID(12),
		now:            time.Now,
		sessions:       make(map[string]*Session),
	}
	st.endpoint = func(domain, token string) Endpoint {
		return Endpoint{Domain: domain, Token: token}
	}
	for _, o := range opts {
		o(st)
	}
	if st.policy.Attempts <= 0 {
		st.policy.Attempts = 1
	}
	return st
}

// NormalizeDomain reduces a hostname, host:port or URL to the lowercase
// hostname used as the session key.
func NormalizeDomain(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", toolerr.UserWrap(err, "invalid url %q", s)
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	s = strings.TrimSuffix(strings.ToLower(strings.Trim(s, "[]")), ".")
	if s == "" {
		return "", toolerr.User("no domain given")
	}
	return s, nil
}

// GetOrCreate returns the domain's connected session, connecting a new one
// when there is none or the previous one failed. Concurrent callers for the
// same domain share one connection attempt.
func (st *Store) GetOrCreate(ctx context.Context, domain string) (*Session, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if s, err := st.lookup(d); s != nil || err != nil {
		return s, err
	}

	ch := st.flight.DoChan(d, func() (any, error) {
		return st.connect(d)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Session), nil
	}
}

// lookup returns the live session for d, evicting a failed one.
func (st *Store) lookup(d string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, ErrClosed
	}
	s, ok := st.sessions[d]
	if !ok {
		return nil, nil
	}
	if s.State() == Failed {
		delete(st.sessions, d)
		return nil, nil
	}
	return s, nil
}

// connect builds and connects a new session. The attempt is detached from
// the caller's context so an abandoned call never leaves a half-built
// session behind.
func (st *Store) connect(d string) (*Session, error) {
	if s, err := st.lookup(d); s != nil || err != nil {
		return s, err
	}

	token := st.newToken()
	s := &Session{
		ID:        st.newID(),
		Domain:    d,
		endpoint:  st.endpoint(d, token),
		createdAt: st.now(),
		log:       newNetLog(),
	}
	s.touch(s.createdAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	st.transition(s, Connecting)
	var last error
	for attempt := 0; attempt < st.policy.Attempts; attempt++ {
		if attempt > 0 {
			sleep(connectivity.Backoff(st.policy.BaseDelay, st.policy.MaxDelay, attempt-1))
		}
		_, last = st.open(s, "")
		if last == nil {
			break
		}
		st.logger.Warn("session: connect attempt failed",
			"domain", d, "attempt", attempt+1, "max_attempts", st.policy.Attempts, "error", last)
	}
	if last != nil {
		st.transition(s, Failed)
		return nil, &toolerr.ConnectionError{Domain: d, Attempts: st.policy.Attempts, Cause: last}
	}
	st.transition(s, Connected)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		s.release()
		st.transition(s, Disconnected)
		return nil, ErrClosed
	}
	st.sessions[d] = s
	st.mu.Unlock()

	st.logger.Info("session: connected", "domain", d, "session_id", s.ID)
	return s, nil
}

// open dials the endpoint and installs a page. With a non-empty pageID it
// first tries to re-acquire that page; the network log survives only then.
// Must be called with s.mu held.
func (st *Store) open(s *Session, pageID string) (reattached bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), st.connectTimeout)
	defer cancel()

	conn, err := st.connector.Connect(ctx, s.endpoint)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}

	var page Page
	if pageID != "" {
		if page, err = conn.Attach(ctx, pageID); err == nil {
			reattached = true
		} else {
			st.logger.Info("session: page lost, recreating", "domain", s.Domain, "page_id", pageID, "error", err)
		}
	}
	if !reattached {
		if page, err = conn.NewPage(ctx); err != nil {
			_ = conn.Close()
			return false, fmt.Errorf("new page: %w", err)
		}
	}
	if err := s.startPump(page); err != nil {
		_ = page.Close()
		_ = conn.Close()
		return false, fmt.Errorf("subscribe network events: %w", err)
	}

	s.conn, s.page = conn, page
	if !reattached {
		s.log.reset()
		s.refs = nil
	}
	return reattached, nil
}

// Do runs fn against the session's page under the session lock. When fn
// fails and the transport is found dead, the session reconnects and fn runs
// once more on the re-acquired page; a reconnect that exhausts its budget
// yields a ConnectionError. When the old page could not be re-acquired, fn
// is not replayed on the blank replacement and the caller gets a user error.
func (st *Store) Do(ctx context.Context, s *Session, fn Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return st.doLocked(ctx, s, fn, false)
}

// doLocked is Do with s.mu held. anyPage marks actions that do not depend
// on the page's prior state, such as a navigation, which may run on a page
// created by the reconnect.
func (st *Store) doLocked(ctx context.Context, s *Session, fn Action, anyPage bool) error {
	if s.State() != Connected {
		return &toolerr.ConnectionError{Domain: s.Domain, Cause: ErrSessionGone}
	}
	s.touch(st.now())

	err := fn(ctx, s.page)
	if err == nil || toolerr.IsUser(err) || ctx.Err() != nil {
		return err
	}
	if !st.dropped(ctx, s) {
		return err
	}

	st.logger.Warn("session: transport drop detected", "domain", s.Domain, "session_id", s.ID, "error", err)
	reattached, rerr := st.reconnect(s, err)
	if rerr != nil {
		return rerr
	}
	if !reattached && !anyPage {
		return toolerr.User("the browser page on %s was lost while reconnecting and a blank one replaced it: navigate again", s.Domain)
	}
	return fn(ctx, s.page)
}

func (st *Store) dropped(ctx context.Context, s *Session) bool {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), st.pingTimeout)
	defer cancel()
	return s.conn.Ping(pctx) != nil
}

// reconnect drives reconnecting -> connected | failed and reports whether the
// previous page was re-acquired. Must be called with s.mu held.
func (st *Store) reconnect(s *Session, cause error) (bool, error) {
	st.transition(s, Reconnecting)

	pageID := s.page.ID()
	s.stopPump()
	_ = s.conn.Close()
	s.conn, s.page = nil, nil

	last := cause
	for attempt := 0; attempt < st.policy.Attempts; attempt++ {
		sleep(connectivity.Backoff(st.policy.BaseDelay, st.policy.MaxDelay, attempt))
		reattached, err := st.open(s, pageID)
		if err == nil {
			s.reconnects++
			st.transition(s, Connected)
			st.logger.Info("session: reconnected", "domain", s.Domain, "attempt", attempt+1, "page_reattached", reattached)
			return reattached, nil
		}
		last = err
		st.logger.Warn("session: reconnect attempt failed",
			"domain", s.Domain, "attempt", attempt+1, "max_attempts", st.policy.Attempts, "error", err)
	}

	st.transition(s, Failed)
	st.forget(s)
	return false, &toolerr.ConnectionError{Domain: s.Domain, Attempts: st.policy.Attempts, Cause: last}
}

// NavigateOptions tunes Navigate.
type NavigateOptions struct {
	// KeepRequests preserves the network log across the navigation.
	KeepRequests bool
}

// Navigate loads rawURL in the session of the URL's hostname. from is the
// caller's current session, or nil; when its domain differs, the target
// domain's session is fetched or created and from is left untouched.
// Returns the session that performed the navigation.
func (st *Store) Navigate(ctx context.Context, from *Session, rawURL string, opts NavigateOptions) (*Session, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, toolerr.User("invalid url %q: want an absolute http(s) url", rawURL)
	}
	d, err := NormalizeDomain(u.Hostname())
	if err != nil {
		return nil, err
	}

	s := from
	if s == nil || s.Domain != d || s.State() != Connected {
		if s, err = st.GetOrCreate(ctx, d); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	s.mu.Lock()
	err = st.doLocked(ctx, s, func(ctx context.Context, p Page) error {
		if err := p.Navigate(ctx, u.String()); err != nil {
			return err
		}
		if !opts.KeepRequests {
			s.log.clearBefore(started)
		}
		s.refs = nil
		return nil
	}, true)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Capture is the result of CaptureSnapshot. Tree is set only for
// unfiltered captures.
type Capture struct {
	Page     PageInfo
	Tree     *snapshot.Node
	Elements []snapshot.Element
}

// CaptureSnapshot reads the page's accessibility tree. Filtered captures
// keep interactive elements only. Either way the element refs become the
// session's current refs for DoRef.
func (st *Store) CaptureSnapshot(ctx context.Context, s *Session, filtered bool) (*Capture, error) {
	var c Capture
	err := st.Do(ctx, s, func(ctx context.Context, p Page) error {
		tree, err := p.AXTree(ctx)
		if err != nil {
			return err
		}
		info, err := p.Info(ctx)
		if err != nil {
			return err
		}
		c = Capture{Page: info}
		if filtered {
			c.Elements = snapshot.Filter(tree, snapshot.Options{})
		} else {
			c.Tree = tree
			c.Elements = snapshot.Filter(tree, snapshot.Options{Unfiltered: true})
		}
		s.refs = snapshot.NewIndex(c.Elements)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RefAction runs against one element resolved from the last snapshot.
type RefAction func(ctx context.Context, p Page, el snapshot.Element) error

// DoRef resolves ref against the session's last snapshot and runs fn, all
// under the session lock.
func (st *Store) DoRef(ctx context.Context, s *Session, ref int, fn RefAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == nil {
		return toolerr.User("no snapshot taken on %s yet: call scraping_browser_snapshot first", s.Domain)
	}
	el, ok := s.refs[ref]
	if !ok {
		return toolerr.User("ref %d not found in the last snapshot of %s: take a new snapshot", ref, s.Domain)
	}
	if el.Locator == 0 {
		return toolerr.User("ref %d (%s) cannot be targeted", ref, el.Role)
	}
	return st.doLocked(ctx, s, func(ctx context.Context, p Page) error {
		return fn(ctx, p, el)
	}, false)
}

// Requests returns a copy of the session's network log.
func (st *Store) Requests(s *Session) []Entry {
	return s.log.snapshot()
}

// ClearRequests empties the session's network log.
func (st *Store) ClearRequests(s *Session) {
	s.log.clearBefore(time.Now())
}

// Get returns the live session for a domain without connecting.
func (st *Store) Get(domain string) (*Session, bool) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, false
	}
	s, _ := st.lookup(d)
	return s, s != nil
}

// Sessions lists live sessions sorted by domain.
func (st *Store) Sessions() []Info {
	st.mu.Lock()
	list := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		list = append(list, s)
	}
	st.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		reconnects := s.reconnects
		s.mu.Unlock()
		out = append(out, Info{
			ID:           s.ID,
			Domain:       s.Domain,
			State:        s.State().String(),
			Requests:     s.log.len(),
			Reconnects:   reconnects,
			CreatedAt:    s.createdAt,
			LastActivity: s.LastActivity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// CloseIdle shuts down sessions idle for longer than maxIdle and returns
// how many were closed.
func (st *Store) CloseIdle(maxIdle time.Duration) int {
	cutoff := st.now().Add(-maxIdle)

	st.mu.Lock()
	var idle []*Session
	for d, s := range st.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(st.sessions, d)
		}
	}
	st.mu.Unlock()

	for _, s := range idle {
		st.shutdown(s)
		st.logger.Info("session: closed idle", "domain", s.Domain, "idle", st.now().Sub(s.LastActivity()).Round(time.Second))
	}
	return len(idle)
}

// CloseAll releases every session. The store rejects new sessions afterwards.
func (st *Store) CloseAll() error {
	st.mu.Lock()
	st.closed = true
	list := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		list = append(list, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	var g errgroup.Group
	for _, s := range list {
		g.Go(func() error {
			st.shutdown(s)
			return nil
		})
	}
	return g.Wait()
}

func (st *Store) shutdown(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	if s.State() != Disconnected {
		st.transition(s, Disconnected)
	}
}

// forget removes s from the map if it is still the domain's session.
func (st *Store) forget(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[s.Domain]; ok && cur == s {
		delete(st.sessions, s.Domain)
	}
}

func (st *Store) transition(s *Session, to State) {
	s.stateMu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.stateMu.Unlock()
		st.logger.Error("session: illegal transition", "domain", s.Domain, "from", from, "to", to)
		return
	}
	s.state = to
	s.stateMu.Unlock()

	st.logger.Debug("session: transition", "domain", s.Domain, "from", from.String(), "to", to.String())
	if st.onTransition != nil {
		st.onTransition(Transition{Domain: s.Domain, SessionID: s.ID, From: from, To: to})
	}
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
