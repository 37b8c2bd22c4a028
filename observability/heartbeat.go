package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// RuntimeMetrics captures process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
}

// CollectRuntimeMetrics reads current Go runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
	}
}

// HeartbeatWriter writes periodic liveness rows to process_heartbeats.
type HeartbeatWriter struct {
	db       *sql.DB
	process  string
	hostname string
	pid      int
	interval time.Duration
	sessions func() int
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewHeartbeatWriter creates a writer. sessions reports the number of open
// browser sessions and may be nil. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, process string, interval time.Duration, sessions func() int, logger *slog.Logger) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatWriter{
		db:       db,
		process:  process,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		sessions: sessions,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start writes one heartbeat immediately, then one per interval until Stop
// or ctx cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	if hw.started.CompareAndSwap(false, true) {
		go hw.loop(ctx)
	}
}

// WriteHeartbeat writes a single heartbeat row.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	var sessions sql.NullInt64
	if hw.sessions != nil {
		sessions = sql.NullInt64{Int64: int64(hw.sessions()), Valid: true}
	}
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO process_heartbeats (
			process_name, hostname, pid, timestamp,
			goroutines_count, memory_alloc_mb, browser_sessions
		) VALUES (?,?,?,?,?,?,?)`,
		hw.process, hw.hostname, hw.pid, time.Now().UnixMilli(),
		m.GoroutinesCount, m.MemoryAllocMB, sessions)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

// Stop signals the heartbeat goroutine to exit and waits for it. Safe to
// call more than once, and before Start.
func (hw *HeartbeatWriter) Stop() {
	hw.stopOnce.Do(func() { close(hw.stop) })
	if hw.started.Load() {
		<-hw.done
	}
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	beat := func() {
		if err := hw.WriteHeartbeat(ctx); err != nil && ctx.Err() == nil {
			hw.logger.Error("observability: heartbeat write failed", "error", err, "process", hw.process)
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			beat()
		}
	}
}

// HeartbeatStatus is the latest heartbeat of a process with a staleness
// verdict.
type HeartbeatStatus struct {
	Process         string         `json:"process"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Timestamp       time.Time      `json:"timestamp"`
	GoroutinesCount int            `json:"goroutines_count"`
	MemoryAllocMB   float64        `json:"memory_alloc_mb"`
	BrowserSessions int            `json:"browser_sessions"`
	Alive           bool           `json:"alive"`
	StaleSince      *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat returns the most recent heartbeat of process, or nil, nil
// when none was recorded. threshold is usually 3x the heartbeat interval.
func LatestHeartbeat(ctx context.Context, db *sql.DB, process string, threshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT process_name, hostname, pid, timestamp,
		       goroutines_count, memory_alloc_mb, browser_sessions
		FROM process_heartbeats
		WHERE process_name = ?
		ORDER BY timestamp DESC LIMIT 1`, process)

	var (
		hs       HeartbeatStatus
		ts       int64
		sessions sql.NullInt64
	)
	err := row.Scan(&hs.Process, &hs.Hostname, &hs.PID, &ts,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &sessions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hs.Timestamp = time.UnixMilli(ts)
	hs.BrowserSessions = int(sessions.Int64)
	if age := time.Since(hs.Timestamp); age <= threshold {
		hs.Alive = true
	} else {
		stale := age - threshold
		hs.StaleSince = &stale
	}
	return &hs, nil
}

// CleanupHeartbeats deletes heartbeats older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := db.ExecContext(ctx, "DELETE FROM process_heartbeats WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup heartbeats: %w", err)
	}
	return res.RowsAffected()
}
