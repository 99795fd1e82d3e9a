package protocol

import "time"

// Reserved event types exchanged on worker channels.
const (
	TypeStreamCreated = "stream.created"
	TypeStreamMessage = "stream.message"
	TypeStreamClosed  = "stream.closed"
	TypeWorkerQuit    = "worker.quit"
)

// Event is one unit of work flowing through the manager. It is treated as
// immutable once it has been submitted to the router.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`

	// Stream identifies a worker-side stream for stream.* lifecycle events.
	Stream string `json:"stream,omitempty"`

	// Injected by core (not set by workers)
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
}

// IsLifecycle reports whether the event manages a worker-side stream.
func (e Event) IsLifecycle() bool {
	switch e.Type {
	case TypeStreamCreated, TypeStreamMessage, TypeStreamClosed:
		return true
	}
	return false
}

// IsQuit reports whether the event signals worker termination.
func (e Event) IsQuit() bool {
	return e.Type == TypeWorkerQuit
}
