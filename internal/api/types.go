package api

import (
	"time"

	"github.com/mattjoyce/herald/internal/dispatch"
)

// SubmitRequest is the JSON body for POST /events.
type SubmitRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Stream  string         `json:"stream,omitempty"`
}

// SubmitResponse is returned once the router accepted the event.
type SubmitResponse struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
}

// StartWorkerRequest is the optional JSON body for POST /workers/{name}.
// Type defaults to DefaultStartEventType.
type StartWorkerRequest struct {
	Type    string         `json:"type,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DefaultStartEventType is the triggering event type of manually started workers.
const DefaultStartEventType = "api.start"

// WorkerInfo describes one registered worker.
type WorkerInfo struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Channel   string    `json:"channel"`
	StartedAt time.Time `json:"started_at"`
}

type WorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	QueueDepth    int            `json:"queue_depth"`
	QueueByClass  map[int]int    `json:"queue_by_priority,omitempty"`
	Workers       int            `json:"workers"`
	WatchSize     int            `json:"watch_size"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
