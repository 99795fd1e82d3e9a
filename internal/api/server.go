package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/herald/internal/auth"
	"github.com/mattjoyce/herald/internal/dispatch"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/journal"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/registry"
	"github.com/mattjoyce/herald/internal/worker"
)

// Submitter feeds events into the router.
type Submitter interface {
	Submit(ctx context.Context, ev protocol.Event) (protocol.Event, error)
}

// Monitor is the read-only view of the manager used by /healthz and /workers.
type Monitor interface {
	Registry() *registry.Registry
	QueueDepth() int
	QueueDepths() map[int]int
	Stats() dispatch.Stats
	WatchSet() []string
}

// WorkerStarter starts a worker by catalog name.
type WorkerStarter interface {
	Start(ctx context.Context, name string, ev protocol.Event) (*worker.Handle, error)
}

// WorkerStopper terminates a running worker process.
type WorkerStopper interface {
	Stop(ctx context.Context, key string) error
}

type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Deps are the components the handlers talk to. Journal may be nil.
type Deps struct {
	Router  Submitter
	Manager Monitor
	Starter WorkerStarter
	Stopper WorkerStopper
	Journal JournalReader
	Hub     *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events is a long-lived SSE stream.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeEventsRW)).Post("/events", s.handleSubmit)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeWorkersRO)).Get("/workers", s.handleListWorkers)
		r.With(s.requireScopes(auth.ScopeWorkersRW)).Post("/workers/{name}", s.handleStartWorker)
		r.With(s.requireScopes(auth.ScopeWorkersRW)).Delete("/workers/{key}", s.handleStopWorker)
		r.With(s.requireScopes(auth.ScopeJournalRO)).Get("/journal", s.handleJournal)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
