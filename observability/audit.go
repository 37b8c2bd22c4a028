package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/musicaftersex/brightdata-mcp/dbopen"
	"github.com/musicaftersex/brightdata-mcp/idgen"
)

// Invocation is one finalized tool call as persisted in tool_invocations.
type Invocation struct {
	ID            string
	Tool          string
	ClientName    string
	ClientVersion string
	MCPSessionID  string
	StartedAt     time.Time
	Duration      time.Duration
	Outcome       string // "success", "user_error", "internal_error"
	ErrorMessage  string
}

// InvocationFilter narrows Query results.
type InvocationFilter struct {
	Tool    string
	Outcome string
	Since   time.Time
	Limit   int // default 100
}

// OutcomeTotals counts invocations of one tool by outcome.
type OutcomeTotals struct {
	Tool          string `json:"tool"`
	Success       int64  `json:"success"`
	UserError     int64  `json:"user_error"`
	InternalError int64  `json:"internal_error"`
}

// AuditLogger persists invocations asynchronously in batches.
type AuditLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *Invocation
	stop   chan struct{}
	done   chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the generator for invocation IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditLogger sets the logger used for persistence failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:     db,
		newID:  idgen.Prefixed("inv_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan *Invocation, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// Log inserts an invocation synchronously.
func (a *AuditLogger) Log(ctx context.Context, inv *Invocation) error {
	a.fillDefaults(inv)
	return a.insert(ctx, inv)
}

// LogAsync queues an invocation. Falls back to a synchronous insert when
// the buffer is full.
func (a *AuditLogger) LogAsync(inv *Invocation) {
	a.fillDefaults(inv)
	select {
	case a.ch <- inv:
	default:
		a.logger.Warn("observability: audit buffer full, sync fallback", "tool", inv.Tool)
		if err := a.insert(context.Background(), inv); err != nil {
			a.logger.Error("observability: audit sync fallback failed", "error", err)
		}
	}
}

// Query returns invocations newest first.
func (a *AuditLogger) Query(ctx context.Context, f InvocationFilter) ([]*Invocation, error) {
	q := `SELECT invocation_id, tool_name, client_name, client_version, mcp_session_id,
		started_at, duration_ms, outcome, error_message
		FROM tool_invocations WHERE 1=1`
	var args []any
	if f.Tool != "" {
		q += " AND tool_name = ?"
		args = append(args, f.Tool)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		q += " AND started_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query invocations: %w", err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		var inv Invocation
		var startedMs, durMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&inv.ID, &inv.Tool, &inv.ClientName, &inv.ClientVersion, &inv.MCPSessionID,
			&startedMs, &durMs, &inv.Outcome, &errMsg); err != nil {
			return nil, fmt.Errorf("observability: scan invocation: %w", err)
		}
		inv.StartedAt = time.UnixMilli(startedMs)
		inv.Duration = time.Duration(durMs) * time.Millisecond
		inv.ErrorMessage = errMsg.String
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// Totals aggregates persisted invocations per tool.
func (a *AuditLogger) Totals(ctx context.Context) ([]OutcomeTotals, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT tool_name,
		SUM(outcome = 'success'), SUM(outcome = 'user_error'), SUM(outcome = 'internal_error')
		FROM tool_invocations GROUP BY tool_name ORDER BY tool_name`)
	if err != nil {
		return nil, fmt.Errorf("observability: invocation totals: %w", err)
	}
	defer rows.Close()

	var out []OutcomeTotals
	for rows.Next() {
		var t OutcomeTotals
		if err := rows.Scan(&t.Tool, &t.Success, &t.UserError, &t.InternalError); err != nil {
			return nil, fmt.Errorf("observability: scan totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Cleanup deletes invocations older than retentionDays.
func (a *AuditLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := a.db.ExecContext(ctx, "DELETE FROM tool_invocations WHERE started_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup invocations: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(inv *Invocation) {
	if inv.ID == "" {
		inv.ID = a.newID()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}
	if inv.Outcome == "" {
		inv.Outcome = "success"
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*Invocation, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := dbopen.RunTx(ctx, a.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertInvocation)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, inv := range batch {
				if _, err := stmt.ExecContext(ctx, invocationArgs(inv)...); err != nil {
					return fmt.Errorf("insert %s: %w", inv.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			a.logger.Error("observability: audit flush", "error", err, "batch", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case inv := <-a.ch:
					batch = append(batch, inv)
				default:
					flush()
					return
				}
			}
		case inv := <-a.ch:
			batch = append(batch, inv)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertInvocation = `INSERT INTO tool_invocations
	(invocation_id, tool_name, client_name, client_version, mcp_session_id,
	 started_at, duration_ms, outcome, error_message)
	VALUES (?,?,?,?,?,?,?,?,?)`

func invocationArgs(inv *Invocation) []any {
	var errMsg sql.NullString
	if inv.ErrorMessage != "" {
		errMsg = sql.NullString{String: inv.ErrorMessage, Valid: true}
	}
	return []any{
		inv.ID, inv.Tool, inv.ClientName, inv.ClientVersion, inv.MCPSessionID,
		inv.StartedAt.UnixMilli(), inv.Duration.Milliseconds(), inv.Outcome, errMsg,
	}
}

func (a *AuditLogger) insert(ctx context.Context, inv *Invocation) error {
	_, err := a.db.ExecContext(ctx, insertInvocation, invocationArgs(inv)...)
	return err
}
