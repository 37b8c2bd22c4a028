package session

import (
	"sync"
	"time"
)

// Entry is one request/response pair in a session's network log.
type Entry struct {
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resource_type,omitempty"`
	Status       int       `json:"status,omitempty"`
	StatusText   string    `json:"status_text,omitempty"`
	MIMEType     string    `json:"mime_type,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
	RespondedAt  time.Time `json:"responded_at,omitzero"`
}

// netLog is an append-only log fed by one pump goroutine. Requests are
// appended in arrival order; responses fill in the entry of their request.
type netLog struct {
	mu      sync.Mutex
	entries []Entry
	byID    map[string]int
	floor   time.Time
}

func newNetLog() *netLog {
	return &netLog{byID: make(map[string]int)}
}

func (l *netLog) add(ev NetworkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case EventRequest:
		if ev.At.Before(l.floor) {
			return
		}
		if i, ok := l.byID[ev.RequestID]; ok {
			// Redirects reuse the request id; the entry follows the new hop.
			l.entries[i].URL = ev.URL
			l.entries[i].Method = ev.Method
			return
		}
		l.byID[ev.RequestID] = len(l.entries)
		l.entries = append(l.entries, Entry{
			RequestID:    ev.RequestID,
			Method:       ev.Method,
			URL:          ev.URL,
			ResourceType: ev.ResourceType,
			RequestedAt:  ev.At,
		})
	case EventResponse:
		i, ok := l.byID[ev.RequestID]
		if !ok {
			return
		}
		e := &l.entries[i]
		e.Status = ev.Status
		e.StatusText = ev.StatusText
		e.MIMEType = ev.MIMEType
		e.RespondedAt = ev.At
		if e.ResourceType == "" {
			e.ResourceType = ev.ResourceType
		}
	}
}

// clearBefore drops every entry requested before t and ignores late
// requests stamped before t.
func (l *netLog) clearBefore(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.floor = t
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.RequestedAt.Before(t) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	l.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		l.byID[e.RequestID] = i
	}
}

func (l *netLog) reset() {
	l.clearBefore(time.Now())
}

func (l *netLog) snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *netLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
