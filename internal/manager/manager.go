// Package manager is the priority event-dispatch core.
//
// A Manager owns one EventLoop goroutine and a pool of dispatch loops.
// The EventLoop multiplexes the router channel, a wake channel and every
// registered worker channel. Router events are classified and pushed onto a
// priority queue that the dispatch pool drains into the Resolver; worker
// events bypass the queue and go straight to the Handlers.
//
// Lower priority values are serviced first.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/herald/internal/classify"
	"github.com/mattjoyce/herald/internal/dispatch"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/registry"
	"github.com/mattjoyce/herald/internal/worker"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

var (
	// ErrRouterClosed is returned by Run when the router channel closes
	// while the manager is not shutting down.
	ErrRouterClosed = errors.New("router channel closed")

	ErrNoRouter     = errors.New("manager: router channel is nil")
	ErrNoClassifier = errors.New("manager: classifier is nil")
	ErrNoResolver   = errors.New("manager: resolver is nil")
	ErrNoSpawner    = errors.New("manager: no spawner configured")

	ErrAlreadyRunning = errors.New("manager: already running")
	ErrClosed         = errors.New("manager: closed")
)

type Manager struct {
	router     <-chan protocol.Event
	classifier classify.Classifier
	resolver   dispatch.Resolver

	queue    *queue.Queue
	registry *registry.Registry
	wake     *WakeChannel

	spawner         worker.Spawner
	handlers        Handlers
	pollInterval    time.Duration
	drainTimeout    time.Duration
	dispatchWorkers int
	hub             *events.Hub
	journal         dispatch.Recorder
	logger          *slog.Logger

	dispatcher *dispatch.Dispatcher

	anonMu sync.Mutex
	anon   map[string]worker.Channel

	watchMu  sync.RWMutex
	watchSet []string
	builds   atomic.Int64

	running   atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
}

type Option func(*Manager)

// WithSpawner sets the Spawner used by StartWorker.
func WithSpawner(s worker.Spawner) Option { return func(m *Manager) { m.spawner = s } }

// WithHandlers overrides the default handlers field by field.
func WithHandlers(h Handlers) Option {
	return func(m *Manager) { m.handlers = m.handlers.merge(h) }
}

// WithPollInterval bounds how long the EventLoop waits before rebuilding the
// watch set without a wake signal.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithDispatchWorkers sets how many dispatch loops drain the queue.
func WithDispatchWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.dispatchWorkers = n
		}
	}
}

// WithDrainTimeout bounds how long Run waits for queued events on shutdown.
func WithDrainTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.drainTimeout = d
		}
	}
}

// WithHub publishes lifecycle and dispatch activity to h.
func WithHub(h *events.Hub) Option { return func(m *Manager) { m.hub = h } }

// WithJournal records every dispatch outcome in r.
func WithJournal(r dispatch.Recorder) Option { return func(m *Manager) { m.journal = r } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New validates its collaborators and returns an idle manager. The router
// channel is read but never closed by the manager.
func New(router <-chan protocol.Event, c classify.Classifier, r dispatch.Resolver, opts ...Option) (*Manager, error) {
	switch {
	case router == nil:
		return nil, ErrNoRouter
	case c == nil:
		return nil, ErrNoClassifier
	case r == nil:
		return nil, ErrNoResolver
	}

	m := &Manager{
		router:          router,
		classifier:      c,
		resolver:        r,
		queue:           queue.New(),
		registry:        registry.New(),
		wake:            NewWakeChannel(),
		pollInterval:    DefaultPollInterval,
		drainTimeout:    DefaultDrainTimeout,
		dispatchWorkers: 1,
		logger:          log.WithComponent("manager"),
		anon:            make(map[string]worker.Channel),
		closing:         make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	m.handlers = m.defaultHandlers()
	for _, opt := range opts {
		opt(m)
	}

	m.dispatcher = dispatch.New(m.queue, dispatchResolver{m.resolver}, dispatch.Config{
		Workers:  m.dispatchWorkers,
		Hub:      m.hub,
		Recorder: m.journal,
		Logger:   m.logger.With("component", "dispatch"),
	})
	return m, nil
}

// Run starts the dispatch pool and runs the EventLoop until ctx is done,
// Close is called, or the router closes. It then closes the queue and keeps
// watching worker channels for up to the drain timeout while the queued
// events are resolved. Workers may still be started from the dispatch pool
// during the drain.
//
// Run returns nil on a requested shutdown and ErrRouterClosed if the router
// went away on its own.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	dctx, dcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer dcancel()
	m.dispatcher.Start(dctx)

	m.logger.Info("manager started",
		"poll_interval", m.pollInterval,
		"dispatch_workers", m.dispatchWorkers)

	err := m.loop(ctx)
	m.Close()
	m.queue.Close()
	m.drain(dctx, dcancel)
	m.stopOnce.Do(func() { close(m.stopped) })

	m.logger.Info("manager stopped", "error", err)
	return err
}

// drain watches worker channels until the dispatch pool finishes or the
// drain timeout expires, in which case in-flight resolves are cancelled.
func (m *Manager) drain(ctx context.Context, abandon context.CancelFunc) {
	deadline, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()

	if m.queue.Len() > 0 {
		m.logger.Info("draining queued events", "remaining", m.queue.Len())
	}
	_ = m.watch(ctx, nil, m.dispatcher.Done(), deadline.Done())

	select {
	case <-m.dispatcher.Done():
		return
	default:
	}
	m.logger.Warn("drain timeout, abandoning queued events", "remaining", m.queue.Len())
	abandon()
	<-m.dispatcher.Done()
}

// StartWorker spawns a worker for ev, registers it and wakes the loop so the
// worker's channel is watched immediately. resolve receives the worker's
// generic events. Safe from any goroutine.
//
// Once the manager is closing only the dispatch pool may start workers, so
// queued events can still be resolved; after Run returns nothing may.
func (m *Manager) StartWorker(ctx context.Context, ev protocol.Event, resolve worker.ResolveFunc, opts ...StartOption) (*worker.Handle, error) {
	defer m.wake.Signal()

	if m.spawner == nil {
		return nil, ErrNoSpawner
	}
	if m.isStopped() || (m.isClosing() && !fromDispatch(ctx)) {
		return nil, ErrClosed
	}

	req := worker.SpawnRequest{Event: ev}
	for _, opt := range opts {
		opt(&req)
	}

	h, err := m.spawner.Spawn(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("spawn worker %q: %w", req.Name, err)
	}
	if resolve != nil {
		h.Resolve = resolve
	}
	if err := m.registry.Add(h); err != nil {
		_ = h.Channel.Close()
		return nil, fmt.Errorf("register worker %q: %w", h.Key, err)
	}

	m.logger.Info("worker started", "worker_key", h.Key, "worker", h.Name, "pid", h.PID)
	m.hub.Publish(events.WorkerStarted, map[string]any{
		"worker_key": h.Key,
		"worker":     h.Name,
		"pid":        h.PID,
		"event_type": ev.Type,
	})
	return h, nil
}

// StartOption shapes the spawn request built by StartWorker.
type StartOption func(*worker.SpawnRequest)

// WorkerName selects the worker definition to spawn.
func WorkerName(name string) StartOption {
	return func(r *worker.SpawnRequest) { r.Name = name }
}

// WorkerKey fixes the registry key instead of generating one.
func WorkerKey(key string) StartOption {
	return func(r *worker.SpawnRequest) { r.Key = key }
}

func WorkerEnv(env ...string) StartOption {
	return func(r *worker.SpawnRequest) { r.Env = append(r.Env, env...) }
}

// Watch adds a channel that is multiplexed by the loop without being a
// registered worker. Its events go to OnUnregisteredChannelEvent; it is
// dropped when closed.
func (m *Manager) Watch(ch worker.Channel) {
	m.anonMu.Lock()
	m.anon[ch.ID()] = ch
	m.anonMu.Unlock()
	m.wake.Signal()
}

// Close stops the EventLoop. Events already queued are still drained by Run.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closing)
		m.wake.Signal()
	})
}

func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) QueueDepth() int { return m.queue.Len() }

// QueueDepths is QueueDepth broken down by priority class.
func (m *Manager) QueueDepths() map[int]int { return m.queue.Depths() }

func (m *Manager) Stats() dispatch.Stats { return m.dispatcher.Stats() }

// WatchSet returns the ids of the worker and watched channels in the most
// recently built watch set.
func (m *Manager) WatchSet() []string {
	m.watchMu.RLock()
	defer m.watchMu.RUnlock()
	out := make([]string, len(m.watchSet))
	copy(out, m.watchSet)
	return out
}

func (m *Manager) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

func (m *Manager) isClosing() bool {
	select {
	case <-m.closing:
		return true
	default:
		return false
	}
}

type dispatchKey struct{}

// dispatchResolver marks the contexts handed to the Resolver by the dispatch
// pool.
type dispatchResolver struct{ next dispatch.Resolver }

func (r dispatchResolver) Resolve(ctx context.Context, ev protocol.Event) error {
	return r.next.Resolve(context.WithValue(ctx, dispatchKey{}, true), ev)
}

func fromDispatch(ctx context.Context) bool {
	v, _ := ctx.Value(dispatchKey{}).(bool)
	return v
}
