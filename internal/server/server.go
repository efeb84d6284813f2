// Package server exposes the read-only operational surface: health, job
// status, metrics, and signal/alert drilldown data as JSON. HTML rendering
// lives in a separate frontend that consumes these endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/pipeline"
	"github.com/polymercado/engine/internal/platform/httpclient"
	"github.com/polymercado/engine/internal/scheduler"
)

// WSStatus reports the websocket consumer state for the metrics payload.
type WSStatus interface {
	State() string
	SubscriptionCount() int
}

// Deps bundles the data sources the handlers read from. Optional fields may
// be nil.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Pool      *httpclient.Client
	Quality   *pipeline.QualityChecker
	Signals   domain.SignalStore
	Alerts    domain.AlertStore
	Jobs      domain.JobStore
	WS        WSStatus
}

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
	startedAt  time.Time
}

// New creates a Server with all routes registered.
func New(port int, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:      deps,
		logger:    logger.With(slog.String("component", "server")),
		startedAt: time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.logging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.deps.Scheduler != nil {
		out["jobs"] = s.deps.Scheduler.Status()
	}
	if s.deps.Jobs != nil {
		if runs, err := s.deps.Jobs.List(r.Context()); err == nil {
			out["job_runs"] = runs
		}
	}
	if s.deps.Quality != nil {
		out["quality_issues"] = s.deps.Quality.Latest()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.deps.Pool != nil {
		out["upstream"] = s.deps.Pool.Stats()
	}
	if s.deps.Scheduler != nil {
		out["jobs"] = s.deps.Scheduler.Status()
	}
	if s.deps.WS != nil {
		out["websocket"] = map[string]any{
			"state":         s.deps.WS.State(),
			"subscriptions": s.deps.WS.SubscriptionCount(),
		}
	}
	if s.deps.Signals != nil {
		since := time.Now().UTC().Add(-time.Hour)
		if counts, err := s.deps.Signals.CountByTypeSince(r.Context(), since); err == nil {
			out["signals_last_hour"] = counts
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Signals == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	events, err := s.deps.Signals.ListRecent(r.Context(), listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	entries, err := s.deps.Alerts.ListRecent(r.Context(), listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func listOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
