package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/journal"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/herald/internal/dispatch Recorder

// ErrResolverPanic wraps the value recovered from a panicking Resolver.
var ErrResolverPanic = errors.New("resolver panicked")

// Resolver is the business logic applied to each dequeued event.
type Resolver interface {
	Resolve(ctx context.Context, ev protocol.Event) error
}

type ResolverFunc func(ctx context.Context, ev protocol.Event) error

func (f ResolverFunc) Resolve(ctx context.Context, ev protocol.Event) error { return f(ctx, ev) }

// Recorder persists dispatch outcomes. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Config tunes a Dispatcher. Zero values are usable.
type Config struct {
	Workers  int
	Hub      *events.Hub
	Recorder Recorder
	Logger   *slog.Logger
}

// Stats are cumulative outcome counters.
type Stats struct {
	Resolved int64 `json:"resolved"`
	Failed   int64 `json:"failed"`
	Panicked int64 `json:"panicked"`
}

type Dispatcher struct {
	queue    *queue.Queue
	resolver Resolver
	workers  int
	hub      *events.Hub
	recorder Recorder
	logger   *slog.Logger

	resolved atomic.Int64
	failed   atomic.Int64
	panicked atomic.Int64

	startOnce sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

func New(q *queue.Queue, r Resolver, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithComponent("dispatch")
	}
	return &Dispatcher{
		queue:    q,
		resolver: r,
		workers:  cfg.Workers,
		hub:      cfg.Hub,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
}

// Start launches the dispatch loops and returns immediately. Done is closed
// once every loop has exited. Calling Start more than once has no effect.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.logger.Info("dispatch pool started", "workers", d.workers)
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.loop(ctx, i)
		}
		go func() {
			d.wg.Wait()
			d.logger.Info("dispatch pool stopped")
			close(d.done)
		}()
	})
}

func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Resolved: d.resolved.Load(),
		Failed:   d.failed.Load(),
		Panicked: d.panicked.Load(),
	}
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		item, err := d.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				d.logger.Error("dequeue failed", "worker", id, "error", err)
			}
			return
		}
		d.dispatch(ctx, item)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, item queue.Item) {
	ev := item.Event
	logger := d.logger.With("event_id", ev.EventID, "event_type", ev.Type, "priority", item.Priority, "sequence", item.Sequence)

	start := time.Now()
	err := d.resolve(ctx, ev)
	elapsed := time.Since(start)

	entry := journal.Entry{
		EventID:     ev.EventID,
		EventType:   ev.Type,
		Source:      ev.Source,
		Priority:    item.Priority,
		Sequence:    item.Sequence,
		EnqueuedAt:  item.EnqueuedAt,
		CompletedAt: start.Add(elapsed),
		Duration:    elapsed,
	}

	hubType := events.EventResolved
	switch {
	case err == nil:
		entry.Status = journal.StatusResolved
		d.resolved.Add(1)
		logger.Debug("event resolved", "duration", elapsed)
	case errors.Is(err, ErrResolverPanic):
		entry.Status = journal.StatusPanicked
		entry.Error = err.Error()
		hubType = events.EventFailed
		d.panicked.Add(1)
	default:
		entry.Status = journal.StatusFailed
		entry.Error = err.Error()
		hubType = events.EventFailed
		d.failed.Add(1)
		logger.Warn("resolver returned error", "error", err)
	}

	d.hub.Publish(hubType, map[string]any{
		"event_id":    ev.EventID,
		"event_type":  ev.Type,
		"priority":    item.Priority,
		"sequence":    item.Sequence,
		"status":      entry.Status,
		"error":       entry.Error,
		"duration_ms": elapsed.Milliseconds(),
	})

	if d.recorder != nil {
		// Outcomes that complete during shutdown are still journaled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := d.recorder.Record(rctx, entry); rerr != nil {
			logger.Error("journal record failed", "error", rerr)
		}
		cancel()
	}
}

func (d *Dispatcher) resolve(ctx context.Context, ev protocol.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrResolverPanic, r)
			d.logger.Error("resolver panicked", "event_id", ev.EventID, "event_type", ev.Type,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	return d.resolver.Resolve(ctx, ev)
}
