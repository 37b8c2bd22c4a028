// CLAUDE:SUMMARY Single choke point for tool calls: rate gate, invocation record, outcome classification, stats.
// Package dispatch runs every tool body through the same sequence: consult
// the rate gate, open an invocation record, run the body, classify the
// outcome, finalize the record.
//
// Records are appended in dispatch order into a bounded in-memory log and,
// when an AuditLogger is configured, persisted after finalization.
//
// A call the gate denies never opens a record: the body did not run, so
// there is no outcome to classify. Denials are counted in ToolStats
// (RateLimited) and as a tool.rate_limited metric instead.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/musicaftersex/brightdata-mcp/idgen"
	"github.com/musicaftersex/brightdata-mcp/kit"
	"github.com/musicaftersex/brightdata-mcp/observability"
	"github.com/musicaftersex/brightdata-mcp/ratelimit"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// Outcome classifies a finalized invocation.
type Outcome string

const (
	OutcomePending       Outcome = "pending"
	OutcomeSuccess       Outcome = "success"
	OutcomeUserError     Outcome = "user_error"
	OutcomeInternalError Outcome = "internal_error"
)

// DefaultRecordCapacity bounds the in-memory invocation log.
const DefaultRecordCapacity = 1000

// Call identifies one tool invocation and its caller.
type Call struct {
	Tool          string
	ClientName    string
	ClientVersion string
	SessionID     string
}

// CallFromContext builds a Call for tool from the metadata kit put in ctx.
func CallFromContext(ctx context.Context, tool string) Call {
	return Call{
		Tool:          tool,
		ClientName:    kit.GetClientName(ctx),
		ClientVersion: kit.GetClientVersion(ctx),
		SessionID:     kit.GetSessionID(ctx),
	}
}

// Record is one tool invocation. Created when the gate lets the call
// through, finalized when the body returns, immutable afterwards.
type Record struct {
	ID         string        `json:"id"`
	Tool       string        `json:"tool"`
	ClientName string        `json:"client_name,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
}

// ToolStats aggregates the invocations of one tool since startup.
type ToolStats struct {
	Tool          string        `json:"tool"`
	Calls         int           `json:"calls"`
	Success       int           `json:"success"`
	UserError     int           `json:"user_error"`
	InternalError int           `json:"internal_error"`
	RateLimited   int           `json:"rate_limited"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	MaxDuration   time.Duration `json:"max_duration_ns"`
	LastCalledAt  time.Time     `json:"last_called_at"`
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	gate     *ratelimit.Gate
	logger   *slog.Logger
	audit    *observability.AuditLogger
	metrics  *observability.MetricsManager
	now      func() time.Time
	newID    idgen.Generator
	capacity int
	wrap     kit.Middleware

	mu      sync.Mutex
	records []*Record
	stats   map[string]*ToolStats
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGate sets the rate gate. A nil gate allows everything.
func WithGate(g *ratelimit.Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// WithLogger sets the operator log.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithAudit persists finalized records.
func WithAudit(a *observability.AuditLogger) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// WithMetrics records per-tool durations and rate limit denials.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(d *Dispatcher) { d.metrics = mm }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) { d.now = fn }
}

// WithIDGenerator sets the record ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(d *Dispatcher) { d.newID = gen }
}

// WithRecordCapacity bounds the in-memory log; oldest records drop first.
func WithRecordCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithMiddleware wraps every body, inside panic recovery.
func WithMiddleware(mws ...kit.Middleware) Option {
	return func(d *Dispatcher) { d.wrap = kit.Chain(mws...) }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   slog.Default(),
		now:      time.Now,
		newID:    idgen.Prefixed("inv_", idgen.Default),
		capacity: DefaultRecordCapacity,
		wrap:     kit.Chain(),
		stats:    make(map[string]*ToolStats),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs body for call. User-facing errors come back verbatim;
// internal errors are logged in full and replaced by a generic message.
// The record is finalized even when the caller has gone away.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, input any, body kit.Endpoint) (any, error) {
	if dec := d.gate.Allow(); !dec.Allowed {
		spec := d.gate.Spec()
		d.rateLimited(call.Tool)
		d.logger.WarnContext(ctx, "dispatch: rate limited",
			"tool", call.Tool, "client", call.ClientName, "retry_after", dec.RetryAfter)
		return nil, &toolerr.RateLimitError{Limit: spec.Limit, Period: spec.Period, RetryAfter: dec.RetryAfter}
	}

	rec := d.open(call)
	run := kit.Chain(kit.Recover(), d.wrap)(body)
	out, err := run(ctx, input)
	outcome := classify(ctx, err)
	d.finalize(rec, call, outcome, err)

	switch outcome {
	case OutcomeSuccess:
		return out, nil
	case OutcomeUserError:
		if isCallerCancel(ctx, err) {
			return nil, toolerr.UserWrap(err, "tool call cancelled")
		}
		return nil, err
	default:
		attrs := []any{"tool", call.Tool, "invocation_id", rec.ID, "client", call.ClientName, "error", err}
		var pe *kit.PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		d.logger.ErrorContext(ctx, "dispatch: tool failed", attrs...)
		if toolerr.IsConnection(err) {
			return nil, err
		}
		return nil, errors.New(toolerr.GenericMessage)
	}
}

func classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case toolerr.IsUser(err), isCallerCancel(ctx, err):
		return OutcomeUserError
	default:
		return OutcomeInternalError
	}
}

// The caller cancelled, as opposed to a deadline or upstream failure.
func isCallerCancel(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled)
}

func (d *Dispatcher) open(call Call) *Record {
	rec := &Record{
		ID:         d.newID(),
		Tool:       call.Tool,
		ClientName: call.ClientName,
		StartedAt:  d.now(),
		Outcome:    OutcomePending,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.records) >= d.capacity {
		n := copy(d.records, d.records[len(d.records)-d.capacity+1:])
		clear(d.records[n:])
		d.records = d.records[:n]
	}
	d.records = append(d.records, rec)
	return rec
}

func (d *Dispatcher) finalize(rec *Record, call Call, outcome Outcome, err error) {
	d.mu.Lock()
	rec.Duration = d.now().Sub(rec.StartedAt)
	rec.Outcome = outcome
	if err != nil {
		rec.Error = err.Error()
	}
	final := *rec

	st := d.statsLocked(call.Tool)
	st.Calls++
	st.TotalDuration += final.Duration
	st.MaxDuration = max(st.MaxDuration, final.Duration)
	st.LastCalledAt = final.StartedAt
	switch outcome {
	case OutcomeSuccess:
		st.Success++
	case OutcomeUserError:
		st.UserError++
	default:
		st.InternalError++
	}
	d.mu.Unlock()

	d.metrics.Record(&observability.Metric{
		Name:   observability.MetricToolDuration,
		Value:  float64(final.Duration.Milliseconds()),
		Unit:   "ms",
		Labels: map[string]string{"tool": call.Tool, "outcome": string(outcome)},
	})
	if d.audit != nil {
		d.audit.LogAsync(&observability.Invocation{
			ID:            final.ID,
			Tool:          final.Tool,
			ClientName:    call.ClientName,
			ClientVersion: call.ClientVersion,
			MCPSessionID:  call.SessionID,
			StartedAt:     final.StartedAt,
			Duration:      final.Duration,
			Outcome:       string(final.Outcome),
			ErrorMessage:  final.Error,
		})
	}
}

func (d *Dispatcher) rateLimited(tool string) {
	d.mu.Lock()
	d.statsLocked(tool).RateLimited++
	d.mu.Unlock()
	d.metrics.Record(&observability.Metric{
		Name:   observability.MetricToolRateLimited,
		Value:  1,
		Unit:   "count",
		Labels: map[string]string{"tool": tool},
	})
}

// Must be called with mu held.
func (d *Dispatcher) statsLocked(tool string) *ToolStats {
	st, ok := d.stats[tool]
	if !ok {
		st = &ToolStats{Tool: tool}
		d.stats[tool] = st
	}
	return st
}

// Records returns copies of the retained records in dispatch order.
func (d *Dispatcher) Records() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.records))
	for i, r := range d.records {
		out[i] = *r
	}
	return out
}

// Stats returns per-tool aggregates sorted by tool name.
func (d *Dispatcher) Stats() []ToolStats {
	d.mu.Lock()
	out := make([]ToolStats, 0, len(d.stats))
	for _, st := range d.stats {
		out = append(out, *st)
	}
	d.mu.Unlock()
	slices.SortFunc(out, func(a, b ToolStats) int { return strings.Compare(a.Tool, b.Tool) })
	return out
}

// Window exposes the rate gate accounting, zero when no gate is configured.
func (d *Dispatcher) Window() ratelimit.Window {
	return d.gate.Window()
}
