// Package server exposes the runtime over a token-gated admin HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/studiobrain/internal/capability"
	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/jobs"
	"github.com/roach88/studiobrain/internal/model"
)

// HealthReporter is satisfied by *connector.Registry.
type HealthReporter interface {
	Health(ctx context.Context) []connector.HealthReport
}

// AuditLister is satisfied by *store.Store.
type AuditLister interface {
	ListRecentAuditEvents(ctx context.Context, limit int) ([]model.AuditEvent, error)
}

// SnapshotReader is satisfied by *store.Store.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (model.StudioStateSnapshot, error)
	GetSnapshot(ctx context.Context, date string) (model.StudioStateSnapshot, error)
	LatestDiff(ctx context.Context) (model.StudioStateDiff, error)
}

// Pinger is satisfied by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateJob is satisfied by *jobs.Runner.
type StateJob interface {
	RunOnce(ctx context.Context) error
	Status() jobs.Status
}

// Deps are the collaborators behind the routes. Runtime and Token are
// required; a nil optional dependency disables its routes' data (they
// answer 503).
type Deps struct {
	Runtime    *capability.Runtime
	Connectors HealthReporter
	Audit      AuditLister
	Snapshots  SnapshotReader
	StateJob   StateJob
	DB         Pinger
	Metrics    http.Handler
	Token      string
	Logger     *slog.Logger
}

// Server is the admin HTTP surface.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	if deps.Runtime == nil {
		return nil, errors.New("server: runtime required")
	}
	if deps.Token == "" {
		return nil, errors.New("server: admin token required")
	}
	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(requireToken(s.deps.Token))

		api.Get("/capabilities", s.handleCapabilities)

		api.Post("/proposals", s.handleCreate)
		api.Get("/proposals", s.handleList)
		api.Get("/proposals/{id}", s.handleGet)
		api.Post("/proposals/{id}/approve", s.handleApprove)
		api.Post("/proposals/{id}/reject", s.handleReject)
		api.Post("/proposals/{id}/execute", s.handleExecute)
		api.Post("/proposals/{id}/intake-override", s.handleIntakeOverride)

		api.Get("/kill-switch", s.handleGetKillSwitch)
		api.Post("/kill-switch", s.handleSetKillSwitch)

		api.Get("/connectors/health", s.handleConnectorHealth)
		api.Get("/audit", s.handleAudit)

		api.Post("/state/recompute", s.handleRecompute)
		api.Get("/state/latest", s.handleLatestState)
		api.Get("/state/snapshots/{date}", s.handleSnapshotByDate)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
