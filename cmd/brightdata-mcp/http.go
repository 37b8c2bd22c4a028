package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/musicaftersex/brightdata-mcp/dispatch"
	"github.com/musicaftersex/brightdata-mcp/observability"
	"github.com/musicaftersex/brightdata-mcp/session"
	"github.com/musicaftersex/brightdata-mcp/shield"
)

// serveHTTP runs the streamable MCP transport on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, a *app) error {
	handler, err := a.router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: streamable responses and the GET event stream
		// stay open for the length of a tool call.
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("brightdata-mcp: serving http", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, failed := <-errCh:
		if failed {
			return fmt.Errorf("brightdata-mcp: listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("brightdata-mcp: shutting down http")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("brightdata-mcp: http shutdown: %w", err)
	}
	return nil
}

func (a *app) router() (http.Handler, error) {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(a.logger) {
		r.Use(mw)
	}
	if a.cfg.HTTPAuthHash != "" {
		auth, err := shield.BearerAuth(a.cfg.HTTPAuthHash, "/healthz")
		if err != nil {
			return nil, err
		}
		r.Use(auth)
	}
	r.Get("/healthz", a.health)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return a.server }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)
	return r, nil
}

type healthReply struct {
	Status      string                        `json:"status"`
	Tools       int                           `json:"tools"`
	Sessions    []session.Info                `json:"sessions"`
	Invocations []dispatch.ToolStats          `json:"invocations"`
	Persisted   []observability.OutcomeTotals `json:"persisted,omitempty"`
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	reply := healthReply{
		Status:      "ok",
		Tools:       len(a.tools),
		Sessions:    a.store.Sessions(),
		Invocations: a.dispatcher.Stats(),
	}
	if a.audit != nil {
		totals, err := a.audit.Totals(r.Context())
		if err != nil {
			shield.GetLogger(r.Context()).Warn("brightdata-mcp: health totals", "error", err)
			reply.Status = "degraded"
		}
		reply.Persisted = totals
	}
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
