// Package resolve turns dequeued events into worker processes.
//
// Each routed event type names a worker from the catalog. Resolving an event
// starts a fresh worker with the event as its first frame. Whatever the
// worker later emits is re-submitted to the router, provided the worker's
// manifest lists the type under emits.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/manager"
	"github.com/mattjoyce/herald/internal/plugin"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/worker"
)

var (
	// ErrNoRoute is returned for event types without a configured worker.
	ErrNoRoute = errors.New("no route for event type")

	// ErrUndeclaredEmit is returned when a worker emits a type missing from
	// its manifest.
	ErrUndeclaredEmit = errors.New("event type not declared in worker emits")
)

const resubmitTimeout = 10 * time.Second

// Starter is the part of *manager.Manager the resolver needs.
type Starter interface {
	StartWorker(ctx context.Context, ev protocol.Event, resolve worker.ResolveFunc, opts ...manager.StartOption) (*worker.Handle, error)
}

type Submitter interface {
	Submit(ctx context.Context, ev protocol.Event) (protocol.Event, error)
}

type Resolver struct {
	routes  map[string]string
	catalog *plugin.Catalog
	submit  Submitter
	logger  *slog.Logger

	mu      sync.RWMutex
	starter Starter

	inflight sync.WaitGroup
}

// New checks every route against the catalog. The starter is bound later
// with Bind, since the manager itself needs the resolver to be built.
func New(routes map[string]string, catalog *plugin.Catalog, submit Submitter) (*Resolver, error) {
	var problems []string
	for eventType, name := range routes {
		p, ok := catalog.Get(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("route %q: unknown worker %q", eventType, name))
			continue
		}
		if len(p.Handles) > 0 && !p.HandlesType(eventType) {
			problems = append(problems, fmt.Sprintf("route %q: worker %q does not handle it", eventType, name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("invalid routes: %v", problems)
	}

	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	return &Resolver{
		routes:  copied,
		catalog: catalog,
		submit:  submit,
		logger:  log.WithComponent("resolve"),
	}, nil
}

func (r *Resolver) Bind(s Starter) {
	r.mu.Lock()
	r.starter = s
	r.mu.Unlock()
}

// Route returns the worker name configured for eventType.
func (r *Resolver) Route(eventType string) (string, bool) {
	name, ok := r.routes[eventType]
	return name, ok
}

// EventTypes lists routed event types, sorted.
func (r *Resolver) EventTypes() []string {
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Resolve starts the worker routed for ev.Type.
func (r *Resolver) Resolve(ctx context.Context, ev protocol.Event) error {
	name, ok := r.routes[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, ev.Type)
	}

	r.mu.RLock()
	starter := r.starter
	r.mu.RUnlock()
	if starter == nil {
		return fmt.Errorf("resolver not bound to a manager")
	}

	h, err := starter.StartWorker(ctx, ev, r.Emitted(name), manager.WorkerName(name))
	if err != nil {
		return err
	}
	r.logger.Debug("event routed to worker", "event_id", ev.EventID, "event_type", ev.Type, "worker", name, "worker_key", h.Key)
	return nil
}

// Start launches worker name directly, outside any route, with ev as its
// triggering event. Its emitted events are handled as for routed workers.
func (r *Resolver) Start(ctx context.Context, name string, ev protocol.Event) (*worker.Handle, error) {
	if _, ok := r.catalog.Get(name); !ok {
		return nil, fmt.Errorf("%w: %q", worker.ErrUnknownWorker, name)
	}
	r.mu.RLock()
	starter := r.starter
	r.mu.RUnlock()
	if starter == nil {
		return nil, fmt.Errorf("resolver not bound to a manager")
	}
	return starter.StartWorker(ctx, ev, r.Emitted(name), manager.WorkerName(name))
}

// Emitted returns the ResolveFunc for events coming back from worker name.
// It runs on the manager's loop, so the re-submission happens off it.
func (r *Resolver) Emitted(name string) worker.ResolveFunc {
	return func(ctx context.Context, ev protocol.Event) error {
		p, ok := r.catalog.Get(name)
		if !ok || !p.EmitsType(ev.Type) {
			return fmt.Errorf("%w: worker %q emitted %q", ErrUndeclaredEmit, name, ev.Type)
		}

		ev.Source = name
		ev.EventID = ""
		ev.Timestamp = time.Time{}

		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resubmitTimeout)
			defer cancel()
			if _, err := r.submit.Submit(sctx, ev); err != nil {
				r.logger.Warn("re-submit failed", "worker", name, "event_type", ev.Type, "error", err)
			}
		}()
		return nil
	}
}

// Wait blocks until pending re-submissions have finished.
func (r *Resolver) Wait() { r.inflight.Wait() }
