package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/router"
)

type Server struct {
	config    Config
	submit    Submitter
	logger    *slog.Logger
	endpoints map[string]EndpointConfig
	server    *http.Server
}

func New(cfg Config, submit Submitter, logger *slog.Logger) *Server {
	endpoints := make(map[string]EndpointConfig, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}
	return &Server{config: cfg, submit: submit, logger: logger, endpoints: endpoints}
}

// Start serves on the configured listen address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	for path := range s.endpoints {
		r.Post(path, s.handle)
	}
	return r
}

// logRequests never logs bodies.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("webhook request",
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoints[r.URL.Path]
	if !ok {
		respond(w, http.StatusNotFound, ErrorResponse{Error: "endpoint not found"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		respond(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if int64(len(body)) > ep.MaxBodySize {
		respond(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
		return
	}

	if err := verify(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
		s.logger.Warn("webhook rejected", "path", r.URL.Path, "header", ep.SignatureHeader)
		respond(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	ev, err := s.submit.Submit(r.Context(), protocol.Event{
		Type:    ep.EventType,
		Payload: payloadOf(body),
		Source:  "webhook:" + ep.Path,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("webhook submit failed", "path", ep.Path, "error", err)
		respond(w, status, ErrorResponse{Error: "event not accepted"})
		return
	}

	s.logger.Info("webhook event submitted", "path", ep.Path, "event_type", ep.EventType, "event_id", ev.EventID)
	respond(w, http.StatusAccepted, AcceptedResponse{EventID: ev.EventID})
}

func payloadOf(body []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"body": string(body)}
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
