package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/herald/internal/manager"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/router"
	"github.com/mattjoyce/herald/internal/worker"
)

const (
	maxRequestBody      = 1 << 20
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	m := s.deps.Manager
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    m.QueueDepth(),
		QueueByClass:  m.QueueDepths(),
		Workers:       m.Registry().Len(),
		WatchSize:     len(m.WatchSet()),
		Dispatch:      m.Stats(),
	})
}

// handleSubmit handles POST /events.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.deps.Router.Submit(r.Context(), protocol.Event{
		Type:    req.Type,
		Payload: req.Payload,
		Stream:  req.Stream,
		Source:  "api",
	})
	switch {
	case errors.Is(err, protocol.ErrEmptyType):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, router.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "router closed")
		return
	case err != nil:
		s.logger.Error("submit failed", "event_type", req.Type, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit event")
		return
	}

	s.writeJSON(w, http.StatusAccepted, SubmitResponse{EventID: ev.EventID, Type: ev.Type, Status: "accepted"})
}

// handleListWorkers handles GET /workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	handles := s.deps.Manager.Registry().Handles()
	resp := WorkersResponse{Workers: make([]WorkerInfo, 0, len(handles))}
	for _, h := range handles {
		resp.Workers = append(resp.Workers, workerInfo(h))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStartWorker handles POST /workers/{name}.
func (s *Server) handleStartWorker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req StartWorkerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Type == "" {
		req.Type = DefaultStartEventType
	}

	h, err := s.deps.Starter.Start(r.Context(), name, protocol.Event{
		Type:      req.Type,
		Payload:   req.Payload,
		Source:    "api",
		Timestamp: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, worker.ErrUnknownWorker):
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	case errors.Is(err, manager.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "manager shutting down")
		return
	case err != nil:
		s.logger.Error("start worker failed", "worker", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start worker")
		return
	}

	s.writeJSON(w, http.StatusCreated, workerInfo(h))
}

// handleStopWorker handles DELETE /workers/{key}.
func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.deps.Manager.Registry().Get(key); !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	if err := s.deps.Stopper.Stop(r.Context(), key); err != nil {
		s.logger.Error("stop worker failed", "worker_key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop worker")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJournal handles GET /journal?limit=N.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func workerInfo(h *worker.Handle) WorkerInfo {
	info := WorkerInfo{Key: h.Key, Name: h.Name, PID: h.PID, StartedAt: h.StartedAt}
	if h.Channel != nil {
		info.Channel = h.Channel.ID()
	}
	return info
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
