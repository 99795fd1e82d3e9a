package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/protocol"
)

// ErrChannelClosed is returned by Send once either side of a channel is gone.
var ErrChannelClosed = errors.New("worker channel closed")

const defaultInboxSize = 64

// Channel is a bidirectional, message-oriented local endpoint to a worker.
//
// Inbox delivers events sent by the peer and is closed when the peer goes
// away. Each Channel has a stable ID used as its identity in the registry.
type Channel interface {
	ID() string
	Inbox() <-chan protocol.Event
	Send(ctx context.Context, ev protocol.Event) error
	Close() error
}

// pipe is the state shared by the two ends of an in-process channel.
type pipe struct {
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
	ends   [2]*PipeEnd
}

// PipeEnd is one side of an in-process channel pair.
type PipeEnd struct {
	id    string
	idx   int
	inbox chan protocol.Event
	p     *pipe
}

// NewPipe returns two connected ends. Closing either end closes both
// inboxes, like a broken pipe.
func NewPipe() (*PipeEnd, *PipeEnd) {
	p := &pipe{done: make(chan struct{})}
	a := &PipeEnd{id: uuid.NewString(), idx: 0, inbox: make(chan protocol.Event, defaultInboxSize), p: p}
	b := &PipeEnd{id: uuid.NewString(), idx: 1, inbox: make(chan protocol.Event, defaultInboxSize), p: p}
	p.ends = [2]*PipeEnd{a, b}
	return a, b
}

func (e *PipeEnd) ID() string { return e.id }

func (e *PipeEnd) Inbox() <-chan protocol.Event { return e.inbox }

// Send delivers ev to the peer's inbox, blocking while it is full.
func (e *PipeEnd) Send(ctx context.Context, ev protocol.Event) error {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if e.p.closed {
		return ErrChannelClosed
	}
	peer := e.p.ends[1-e.idx]
	select {
	case peer.inbox <- ev:
		return nil
	case <-e.p.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close breaks the pipe. Safe to call more than once and from either end.
func (e *PipeEnd) Close() error {
	e.p.once.Do(func() {
		close(e.p.done)
		e.p.mu.Lock()
		e.p.closed = true
		close(e.p.ends[0].inbox)
		close(e.p.ends[1].inbox)
		e.p.mu.Unlock()
	})
	return nil
}
