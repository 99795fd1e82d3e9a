package webhook

import (
	"context"

	"github.com/mattjoyce/herald/internal/protocol"
)

// Submitter accepts events for the manager. *router.Router implements it.
type Submitter interface {
	Submit(ctx context.Context, ev protocol.Event) (protocol.Event, error)
}

type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

type EndpointConfig struct {
	Path            string
	EventType       string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

type AcceptedResponse struct {
	EventID string `json:"event_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Signature-256"
)
