package observability

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/musicaftersex/brightdata-mcp/dbopen"
	"github.com/musicaftersex/brightdata-mcp/idgen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"tool_invocations", "metrics_timeseries", "process_heartbeats"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("Init is not idempotent: %v", err)
	}
}

// --- AuditLogger ---

func TestAuditLogger_LogAndQuery(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10, WithAuditIDGenerator(idgen.Prefixed("inv_", idgen.Sequence())), WithAuditLogger(quietLogger()))
	defer al.Close()
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	calls := []*Invocation{
		{Tool: "search_engine", ClientName: "cursor", StartedAt: base, Duration: 120 * time.Millisecond},
		{Tool: "search_engine", StartedAt: base.Add(time.Second), Outcome: "user_error", ErrorMessage: "query is required"},
		{Tool: "scrape_as_markdown", StartedAt: base.Add(2 * time.Second), Outcome: "internal_error", ErrorMessage: "boom"},
	}
	for _, inv := range calls {
		if err := al.Log(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}
	if calls[0].ID != "inv_1" || calls[0].Outcome != "success" {
		t.Fatalf("defaults not filled: %+v", calls[0])
	}

	got, err := al.Query(ctx, InvocationFilter{Tool: "search_engine"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d invocations, want 2", len(got))
	}
	if got[0].Outcome != "user_error" || got[0].ErrorMessage != "query is required" {
		t.Fatalf("newest first violated: %+v", got[0])
	}
	if got[1].ClientName != "cursor" || got[1].Duration != 120*time.Millisecond {
		t.Fatalf("round trip: %+v", got[1])
	}

	failed, err := al.Query(ctx, InvocationFilter{Outcome: "internal_error"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Tool != "scrape_as_markdown" {
		t.Fatalf("outcome filter: %+v", failed)
	}
}

func TestAuditLogger_Totals(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10, WithAuditLogger(quietLogger()))
	defer al.Close()
	ctx := context.Background()

	for _, o := range []string{"success", "success", "user_error", "internal_error"} {
		if err := al.Log(ctx, &Invocation{Tool: "scrape_batch", Outcome: o}); err != nil {
			t.Fatal(err)
		}
	}
	al.Log(ctx, &Invocation{Tool: "search_engine"})

	totals, err := al.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("totals = %+v", totals)
	}
	want := OutcomeTotals{Tool: "scrape_batch", Success: 2, UserError: 1, InternalError: 1}
	if totals[0] != want {
		t.Fatalf("totals[0] = %+v, want %+v", totals[0], want)
	}
	if totals[1].Tool != "search_engine" || totals[1].Success != 1 {
		t.Fatalf("totals[1] = %+v", totals[1])
	}
}

func TestAuditLogger_AsyncFlushOnClose(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100, WithAuditLogger(quietLogger()))
	for range 5 {
		al.LogAsync(&Invocation{Tool: "scraping_browser_snapshot"})
	}
	al.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM tool_invocations").Scan(&n)
	if n != 5 {
		t.Fatalf("persisted %d, want 5", n)
	}
}

func TestAuditLogger_SyncFallbackWhenFull(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 0, WithAuditLogger(quietLogger()))
	for range 3 {
		al.LogAsync(&Invocation{Tool: "search_engine"})
	}
	al.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM tool_invocations").Scan(&n)
	if n != 3 {
		t.Fatalf("persisted %d, want 3", n)
	}
}

func TestAuditLogger_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10, WithAuditLogger(quietLogger()))
	defer al.Close()
	ctx := context.Background()

	al.Log(ctx, &Invocation{Tool: "old", StartedAt: time.Now().AddDate(0, 0, -40)})
	al.Log(ctx, &Invocation{Tool: "new"})

	n, err := al.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, quietLogger())

	mm.Record(&Metric{
		Name:   MetricToolDuration,
		Value:  42.5,
		Unit:   "ms",
		Labels: map[string]string{"tool": "search_engine"},
	})
	mm.RecordSimple(MetricBrowserSessions, 3, "count")
	mm.Close()
	mm.Close()

	ctx := context.Background()
	got, err := mm.Query(ctx, MetricToolDuration, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 42.5 || got[0].Labels["tool"] != "search_engine" {
		t.Fatalf("got %+v", got)
	}

	all, err := mm.Query(ctx, "", time.Now().Add(-time.Minute), time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}

	mm.RecordSimple("after_close", 1, "count")
	if after, _ := mm.Query(ctx, "after_close", time.Time{}, time.Time{}, 0); len(after) != 0 {
		t.Fatal("metric recorded after Close was persisted")
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, quietLogger())
	defer mm.Close()

	mm.RecordSimple("a", 1, "count")
	mm.RecordSimple("b", 2, "count")

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("persisted %d, want 2", n)
	}
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.RecordSimple("x", 1, "count")
}

// --- Heartbeats ---

func TestHeartbeat_WriteAndLatest(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()
	hw := NewHeartbeatWriter(db, "brightdata-mcp", time.Hour, func() int { return 4 }, quietLogger())
	if err := hw.WriteHeartbeat(ctx); err != nil {
		t.Fatal(err)
	}

	hs, err := LatestHeartbeat(ctx, db, "brightdata-mcp", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || !hs.Alive || hs.BrowserSessions != 4 || hs.GoroutinesCount == 0 {
		t.Fatalf("status = %+v", hs)
	}

	none, err := LatestHeartbeat(ctx, db, "other", time.Minute)
	if err != nil || none != nil {
		t.Fatalf("unknown process: %+v, %v", none, err)
	}
}

func TestHeartbeat_Stale(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour).UnixMilli()
	if _, err := db.Exec(`INSERT INTO process_heartbeats (process_name, hostname, pid, timestamp, goroutines_count, memory_alloc_mb) VALUES ('p', 'h', 1, ?, 8, 1.5)`, old); err != nil {
		t.Fatal(err)
	}
	hs, err := LatestHeartbeat(ctx, db, "p", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs.Alive || hs.StaleSince == nil {
		t.Fatalf("expected stale heartbeat: %+v", hs)
	}
}

func TestHeartbeat_StartStop(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "p", time.Hour, nil, quietLogger())
	hw.Start(context.Background())
	hw.Stop()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM process_heartbeats WHERE process_name = 'p'").Scan(&n)
	if n != 1 {
		t.Fatalf("heartbeats = %d, want 1 immediate beat", n)
	}
	if _, err := CleanupHeartbeats(context.Background(), db, 1); err != nil {
		t.Fatal(err)
	}
}

func TestHeartbeat_StopWithoutStart(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "p", time.Hour, nil, quietLogger())
	hw.Stop()
	hw.Stop()
}
