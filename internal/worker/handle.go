package worker

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/herald/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_spawner.go -package=mocks github.com/mattjoyce/herald/internal/worker Spawner

// ErrUnknownWorker is returned when a spawn names a worker that is not in the catalog.
var ErrUnknownWorker = errors.New("unknown worker")

// ResolveFunc handles a generic event emitted by a worker.
type ResolveFunc func(ctx context.Context, ev protocol.Event) error

// Handle is one live worker and the channel it talks on.
type Handle struct {
	Key       string
	Name      string
	PID       int
	Channel   Channel
	StartedAt time.Time

	// Resolve, when set, receives the worker's generic (non-lifecycle,
	// non-quit) events.
	Resolve ResolveFunc
}

// SpawnRequest describes a worker to start.
type SpawnRequest struct {
	// Key is the registry key; generated when empty.
	Key string
	// Name selects the worker definition.
	Name string
	// Event is the triggering event, delivered as the first frame.
	Event protocol.Event
	// Env is appended to the worker's environment.
	Env []string
}

// Spawner starts workers. The returned handle's channel is live.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (*Handle, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, req SpawnRequest) (*Handle, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	return f(ctx, req)
}
