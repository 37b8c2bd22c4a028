// CLAUDE:SUMMARY Entry point for the Bright Data MCP server: config, observability, unblocker client, browser store, tool registry, stdio or HTTP transport.
// Command brightdata-mcp serves web scraping, search, structured datasets and
// remote browser automation as MCP tools.
//
// Usage:
//
//	API_TOKEN=... brightdata-mcp                     # stdio, base tools
//	API_TOKEN=... PRO_MODE=true brightdata-mcp       # every tool
//	brightdata-mcp -config brightdata.yaml -log-level debug
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/musicaftersex/brightdata-mcp/browsertools"
	"github.com/musicaftersex/brightdata-mcp/config"
	"github.com/musicaftersex/brightdata-mcp/datatools"
	"github.com/musicaftersex/brightdata-mcp/dbopen"
	"github.com/musicaftersex/brightdata-mcp/dispatch"
	"github.com/musicaftersex/brightdata-mcp/kit"
	"github.com/musicaftersex/brightdata-mcp/mcprt"
	"github.com/musicaftersex/brightdata-mcp/observability"
	"github.com/musicaftersex/brightdata-mcp/ratelimit"
	"github.com/musicaftersex/brightdata-mcp/session"
	"github.com/musicaftersex/brightdata-mcp/unblocker"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const processName = "brightdata-mcp"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (env overrides it)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Logs go to stderr: stdout carries the stdio transport.
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, &level, *configPath, *logLevel); err != nil {
		logger.Error("brightdata-mcp: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, configPath, logLevel string) error {
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	level.Set(lvl)
	logger.Info("brightdata-mcp: starting", "version", version, "config", cfg.Redacted())

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, cfg.HTTPAddr, app)
	default:
		logger.Info("brightdata-mcp: serving stdio")
		err := app.server.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("brightdata-mcp: stdio: %w", err)
		}
		return nil
	}
}

// app holds the long-lived components shared by both transports.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *mcp.Server
	store      *session.Store
	dispatcher *dispatch.Dispatcher
	tools      []string

	db        *sql.DB
	audit     *observability.AuditLogger
	metrics   *observability.MetricsManager
	heartbeat *observability.HeartbeatWriter

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if err := a.openObservability(ctx); err != nil {
		return nil, err
	}

	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	var gate *ratelimit.Gate
	if rate.Limit > 0 {
		gate = ratelimit.NewGate(rate)
		logger.Info("brightdata-mcp: rate limit enabled", "limit", rate.String())
	}

	client := unblocker.New(unblocker.Config{
		BaseURL:      cfg.APIBaseURL,
		Token:        cfg.APIToken,
		UnlockerZone: cfg.UnlockerZone,
		BrowserZone:  cfg.BrowserZone,
		CallTimeout:  cfg.RequestTimeout,
		Logger:       logger,
		Metrics:      a.metrics,
	}, unblocker.WithPollTimeout(cfg.DatasetPollTimeout))

	if cfg.BootstrapZones {
		created, err := client.EnsureZones(ctx)
		if err != nil {
			logger.Warn("brightdata-mcp: zone bootstrap failed", "error", err)
		} else if len(created) > 0 {
			logger.Info("brightdata-mcp: zones created", "zones", created)
		}
	}

	a.store = session.NewStore(
		&session.RodConnector{Stealth: true, Logger: logger},
		session.WithEndpoint(a.browserEndpoint(ctx, client)),
		session.WithLogger(logger),
		// The hook runs under the session lock; it must not call back into the store.
		session.WithTransitionHook(func(tr session.Transition) {
			a.metrics.Record(&observability.Metric{
				Name:   observability.MetricBrowserState,
				Value:  1,
				Unit:   "count",
				Labels: map[string]string{"domain": tr.Domain, "from": tr.From.String(), "to": tr.To.String()},
			})
		}),
	)
	a.startJanitor(cfg.BrowserIdleTimeout)
	if a.heartbeat != nil {
		a.heartbeat.Start(ctx)
	}

	a.dispatcher = dispatch.New(
		dispatch.WithGate(gate),
		dispatch.WithLogger(logger),
		dispatch.WithAudit(a.audit),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithMiddleware(transportTag(cfg.Transport)),
	)

	datasets, err := datatools.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("brightdata-mcp: dataset catalog: %w", err)
	}
	reg := mcprt.NewRegistry()
	if err := datatools.Register(reg, datatools.Deps{
		Upstream:   client,
		Dispatcher: a.dispatcher,
		Audit:      a.audit,
		Datasets:   datasets,
		Logger:     logger,
	}); err != nil {
		return nil, err
	}
	if err := browsertools.New(a.store, logger).Register(reg); err != nil {
		return nil, err
	}

	mode := mcprt.ModeBase
	if cfg.ProMode {
		mode = mcprt.ModePro
	}
	a.server = mcp.NewServer(&mcp.Implementation{Name: processName, Version: version}, nil)
	a.tools = mcprt.Bridge(a.server, reg, mode, a.dispatcher, logger)

	ok = true
	return a, nil
}

// browserEndpoint picks the CDP override when set, otherwise resolves the
// browser zone credentials. A resolution failure leaves the browser tools
// registered; every connect then fails with a connection error.
func (a *app) browserEndpoint(ctx context.Context, client *unblocker.Client) session.EndpointFunc {
	if a.cfg.BrowserCDPEndpoint != "" {
		return unblocker.StaticEndpoint(a.cfg.BrowserCDPEndpoint)
	}
	ep, err := client.BrowserEndpoint(ctx)
	if err != nil {
		a.logger.Warn("brightdata-mcp: browser endpoint unavailable", "zone", client.BrowserZone(), "error", err)
		return unblocker.StaticEndpoint("")
	}
	return ep
}

func (a *app) openObservability(ctx context.Context) error {
	if a.cfg.ObsDB == "" {
		return nil
	}
	db, err := dbopen.Open(a.cfg.ObsDB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("brightdata-mcp: obs db: %w", err)
	}
	a.db = db
	if err := observability.Init(db); err != nil {
		return err
	}
	a.audit = observability.NewAuditLogger(db, 256, observability.WithAuditLogger(a.logger))
	a.metrics = observability.NewMetricsManager(db, 128, 10*time.Second, a.logger)
	a.heartbeat = observability.NewHeartbeatWriter(db, processName, 30*time.Second, a.sessionCount, a.logger)

	if days := a.cfg.ObsRetentionDays; days > 0 {
		if n, err := a.audit.Cleanup(ctx, days); err != nil {
			a.logger.Warn("brightdata-mcp: audit cleanup", "error", err)
		} else if n > 0 {
			a.logger.Info("brightdata-mcp: audit cleanup", "deleted", n)
		}
		a.metrics.Cleanup(ctx, days)
		observability.CleanupHeartbeats(ctx, db, days)
	}
	return nil
}

func (a *app) sessionCount() int {
	if a.store == nil {
		return 0
	}
	return len(a.store.Sessions())
}

// startJanitor closes browser sessions idle for longer than maxIdle.
func (a *app) startJanitor(maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	a.janitorDone = make(chan struct{})
	go func() {
		defer close(a.janitorDone)
		t := time.NewTicker(min(maxIdle/2, time.Minute))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := a.store.CloseIdle(maxIdle); n > 0 {
					a.logger.Info("brightdata-mcp: idle browser sessions closed", "count", n)
				}
				a.metrics.RecordSimple(observability.MetricBrowserSessions, float64(a.sessionCount()), "count")
			}
		}
	}()
}

// close releases everything in reverse start order. Safe on a partial app.
func (a *app) close() {
	if a.stopJanitor != nil {
		a.stopJanitor()
		<-a.janitorDone
	}
	if a.store != nil {
		if err := a.store.CloseAll(); err != nil {
			a.logger.Warn("brightdata-mcp: close browser sessions", "error", err)
		}
	}
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// transportTag records which transport carried the call.
func transportTag(transport string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return next(kit.WithTransport(ctx, transport), req)
		}
	}
}
