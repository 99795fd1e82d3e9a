package queue

import (
	"errors"
	"time"

	"github.com/mattjoyce/herald/internal/protocol"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("queue closed")

// Item pairs an event with its dispatch priority and arrival sequence.
//
// Lower Priority values are serviced first. Sequence is assigned by the queue
// on Push and is strictly increasing, so items of equal priority leave in the
// order they arrived.
type Item struct {
	Event      protocol.Event
	Priority   int
	Sequence   uint64
	EnqueuedAt time.Time
}

// Before reports whether a must be dequeued before b.
func (a Item) Before(b Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Sequence < b.Sequence
}
