// Package scheduler submits configured events on a timer and keeps the
// journal within its retention window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/protocol"
)

const (
	DefaultTick          = time.Second
	DefaultPruneInterval = time.Hour

	// Source is stamped on every scheduled event.
	Source = "scheduler"
)

// Hub activity types.
const (
	Fired   = "scheduler.fired"
	Skipped = "scheduler.skipped"
)

// Schedule submits an event of EventType every Every, plus up to Jitter.
type Schedule struct {
	EventType string
	Every     time.Duration
	Jitter    time.Duration
	Payload   map[string]any
}

type Config struct {
	Schedules []Schedule

	// Retention is passed to the Pruner; zero disables pruning.
	Retention     time.Duration
	PruneInterval time.Duration
	Tick          time.Duration
}

// Scheduler owns one tick loop. Each schedule fires first one interval after
// Start, not immediately.
type Scheduler struct {
	cfg    Config
	submit Submitter
	pruner Pruner
	events *events.Hub
	logger *slog.Logger
	now    func() time.Time

	next      []time.Time
	nextPrune time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. pruner may be nil when there is no journal.
func New(cfg Config, submit Submitter, pruner Pruner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	return &Scheduler{
		cfg:    cfg,
		submit: submit,
		pruner: pruner,
		events: hub,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Validate rejects schedules that could never fire sensibly.
func (c Config) Validate() error {
	var errs []error
	for i, s := range c.Schedules {
		if s.EventType == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: event_type is required", i))
		}
		if s.Every <= 0 {
			errs = append(errs, fmt.Errorf("schedules[%d]: every must be positive", i))
		}
		if s.Jitter < 0 {
			errs = append(errs, fmt.Errorf("schedules[%d]: jitter must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Active reports whether Start would have anything to do.
func (s *Scheduler) Active() bool {
	return len(s.cfg.Schedules) > 0 || (s.pruner != nil && s.cfg.Retention > 0)
}

// Start validates the schedules and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.logger.Info("starting scheduler", "schedules", len(s.cfg.Schedules), "retention", s.cfg.Retention)

	s.prime(s.now())
	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

func (s *Scheduler) prime(start time.Time) {
	s.next = make([]time.Time, len(s.cfg.Schedules))
	for i, sched := range s.cfg.Schedules {
		s.next[i] = start.Add(jittered(sched.Every, sched.Jitter))
	}
	s.nextPrune = start
}

// Stop ends the tick loop and waits for it. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx, s.now())

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, s.now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick fires every due schedule, then prunes when due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for i, sched := range s.cfg.Schedules {
		if now.Before(s.next[i]) {
			continue
		}
		s.next[i] = now.Add(jittered(sched.Every, sched.Jitter))
		s.fire(ctx, sched)
	}

	if s.pruner == nil || s.cfg.Retention <= 0 || now.Before(s.nextPrune) {
		return
	}
	s.nextPrune = now.Add(s.cfg.PruneInterval)
	n, err := s.pruner.Prune(ctx, s.cfg.Retention)
	switch {
	case err != nil && ctx.Err() == nil:
		s.logger.Warn("journal prune failed", "error", err)
	case n > 0:
		s.logger.Info("journal pruned", "rows", n)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) {
	ev := protocol.Event{
		Type:    sched.EventType,
		Source:  Source,
		Payload: copyPayload(sched.Payload),
	}
	ev, err := s.submit.Submit(ctx, ev)
	if err != nil {
		s.logger.Warn("scheduled submit failed", "event_type", sched.EventType, "error", err)
		s.events.Publish(Skipped, map[string]any{
			"event_type": sched.EventType,
			"error":      err.Error(),
		})
		return
	}
	s.logger.Debug("scheduled event submitted", "event_type", ev.Type, "event_id", ev.EventID)
	s.events.Publish(Fired, map[string]any{
		"event_type": ev.Type,
		"event_id":   ev.EventID,
	})
}

// copyPayload keeps one schedule's payload map from being shared by every
// event it fires.
func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// jittered adds a random duration in [0, jitter) to base.
func jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
