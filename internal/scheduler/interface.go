package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/herald/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/herald/internal/scheduler Submitter,Pruner

// Submitter is where scheduled events go; the router in production.
type Submitter interface {
	Submit(ctx context.Context, ev protocol.Event) (protocol.Event, error)
}

// Pruner trims the journal.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
