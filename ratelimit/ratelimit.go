// CLAUDE:SUMMARY Fixed-window call quota parsed from "<n>/<m><h|m|s>", pure in-memory accounting.
// Package ratelimit gates tool invocations against a fixed-window quota.
//
// The quota is written compactly as "<limit>/<n><unit>", unit one of h, m, s:
//
//	spec, err := ratelimit.Parse("100/1h")
//	gate := ratelimit.NewGate(spec)
//	if d := gate.Allow(); !d.Allowed {
//	    // d.RetryAfter until the next slot opens
//	}
//
// A nil *Gate allows every call, which is the behaviour when no quota is
// configured.
package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Spec is a parsed quota: at most Limit calls per Period.
type Spec struct {
	Limit  int
	Period time.Duration
	raw    string
}

// String returns the compact form it was parsed from.
func (s Spec) String() string {
	if s.raw != "" {
		return s.raw
	}
	return fmt.Sprintf("%d/%s", s.Limit, s.Period)
}

var specRe = regexp.MustCompile(`^(\d+)/(\d+)([hms])$`)

// Parse reads a quota of the form "<limit>/<n><unit>". Both integers must be
// positive. Errors are meant to stop startup, not to be retried.
func Parse(s string) (Spec, error) {
	m := specRe.FindStringSubmatch(s)
	if m == nil {
		return Spec{}, fmt.Errorf("ratelimit: invalid spec %q: want <limit>/<n><h|m|s>, e.g. 100/1h", s)
	}
	limit, err := strconv.Atoi(m[1])
	if err != nil || limit <= 0 {
		return Spec{}, fmt.Errorf("ratelimit: invalid limit in %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return Spec{}, fmt.Errorf("ratelimit: invalid period in %q", s)
	}
	var unit time.Duration
	switch m[3] {
	case "h":
		unit = time.Hour
	case "m":
		unit = time.Minute
	case "s":
		unit = time.Second
	}
	return Spec{Limit: limit, Period: time.Duration(n) * unit, raw: s}, nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the current window closes. Zero when allowed.
	RetryAfter time.Duration
}

// Window is a point-in-time copy of the gate's accounting.
type Window struct {
	Limit     int
	Period    time.Duration
	Count     int
	StartedAt time.Time
}

// Gate enforces one Spec. Safe for concurrent use: every check-and-increment
// completes under the mutex.
type Gate struct {
	spec Spec

	mu        sync.Mutex
	count     int
	startedAt time.Time
	now       func() time.Time // injectable clock for testing
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) GateOption {
	return func(g *Gate) { g.now = fn }
}

// NewGate creates a gate whose first window opens at construction time.
func NewGate(spec Spec, opts ...GateOption) *Gate {
	g := &Gate{spec: spec, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	g.startedAt = g.now()
	return g
}

// Spec returns the quota this gate enforces.
func (g *Gate) Spec() Spec {
	if g == nil {
		return Spec{}
	}
	return g.spec
}

// Allow checks the quota and, when a slot is free, consumes it.
// Denied calls do not consume a slot.
func (g *Gate) Allow() Decision {
	if g == nil {
		return Decision{Allowed: true}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.startedAt) >= g.spec.Period {
		g.count = 0
		g.startedAt = now
	}
	if g.count >= g.spec.Limit {
		return Decision{RetryAfter: g.startedAt.Add(g.spec.Period).Sub(now)}
	}
	g.count++
	return Decision{Allowed: true}
}

// Window returns a copy of the current accounting state.
func (g *Gate) Window() Window {
	if g == nil {
		return Window{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return Window{
		Limit:     g.spec.Limit,
		Period:    g.spec.Period,
		Count:     g.count,
		StartedAt: g.startedAt,
	}
}
