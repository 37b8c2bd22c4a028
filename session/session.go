package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musicaftersex/brightdata-mcp/snapshot"
)

// Session is the live browser state for one domain. All fields behind mu
// are only touched by the Store while it holds mu, which also serializes
// every page action and state transition for the domain.
type Session struct {
	ID     string
	Domain string

	endpoint  Endpoint
	createdAt time.Time

	stateMu sync.RWMutex
	state   State

	mu         sync.Mutex
	conn       Conn
	page       Page
	refs       snapshot.Index
	reconnects int
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	log          *netLog
	lastActivity atomic.Int64
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastActivity is when the session last ran an action.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

// Info is a read-only view of a session for stats and health output.
type Info struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	State        string    `json:"state"`
	Requests     int       `json:"requests"`
	Reconnects   int       `json:"reconnects"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// startPump subscribes to page events and feeds them into the log. Must be
// called with mu held.
func (s *Session) startPump(page Page) error {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := page.Events(ctx)
	if err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			s.log.add(ev)
		}
	}()
	s.pumpCancel, s.pumpDone = cancel, done
	return nil
}

// stopPump cancels the subscription and waits for the pump to drain. Must
// be called with mu held.
func (s *Session) stopPump() {
	if s.pumpCancel == nil {
		return
	}
	s.pumpCancel()
	<-s.pumpDone
	s.pumpCancel, s.pumpDone = nil, nil
}

// release tears down page and connection. Must be called with mu held.
func (s *Session) release() {
	s.stopPump()
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.refs = nil
}
