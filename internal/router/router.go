// Package router fans upstream event sources (API, webhooks, stdin, worker
// re-submissions) into the single channel read by the manager.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/protocol"
)

// ErrClosed is returned by Submit once the router has been closed.
var ErrClosed = errors.New("router closed")

const DefaultBuffer = 256

type Router struct {
	ch   chan protocol.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	logger *slog.Logger
}

func New(buffer int) *Router {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	return &Router{
		ch:     make(chan protocol.Event, buffer),
		done:   make(chan struct{}),
		logger: log.WithComponent("router"),
	}
}

// Events is the channel handed to the manager.
func (r *Router) Events() <-chan protocol.Event { return r.ch }

// Submit stamps ev with an id and timestamp when missing and sends it,
// blocking while the buffer is full. The stamped event is returned.
func (r *Router) Submit(ctx context.Context, ev protocol.Event) (protocol.Event, error) {
	if strings.TrimSpace(ev.Type) == "" {
		return ev, protocol.ErrEmptyType
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ev, ErrClosed
	}

	select {
	case r.ch <- ev:
		return ev, nil
	case <-r.done:
		return ev, ErrClosed
	case <-ctx.Done():
		return ev, ctx.Err()
	}
}

// Close closes the event channel. Blocked submitters are released with
// ErrClosed. Safe to call more than once.
func (r *Router) Close() {
	r.once.Do(func() {
		close(r.done)
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
}

// ReadLines submits newline-delimited JSON events from in until EOF or ctx
// is done. Malformed lines are logged and skipped. Events without a source
// get source. It returns the number of events submitted.
func (r *Router) ReadLines(ctx context.Context, in io.Reader, source string) (int, error) {
	dec := protocol.NewDecoder(in)
	n := 0
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if errors.Is(err, protocol.ErrMalformedFrame) {
			r.logger.Warn("skipping malformed line", "source", source, "error", err)
			continue
		}
		if err != nil {
			return n, err
		}

		if ev.Source == "" {
			ev.Source = source
		}
		if _, err := r.Submit(ctx, ev); err != nil {
			return n, fmt.Errorf("submit line %d: %w", n+1, err)
		}
		n++
	}
}
