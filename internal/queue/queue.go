package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	fifo "github.com/eapache/queue"
)

// Queue is a concurrent priority queue. Each priority class is an unbounded
// FIFO ring buffer; classes are visited in ascending priority order.
//
// Push never blocks. Pop blocks until an item is available, the context is
// done, or the queue is closed and empty. Multiple consumers are allowed:
// every Pop returns the minimum at the moment it takes the lock, but no
// ordering is promised between items handed to different consumers.
type Queue struct {
	mu      sync.Mutex
	buckets map[int]*fifo.Queue
	classes []int // ascending, only non-empty classes
	size    int
	seq     uint64
	closed  bool

	// avail is closed (and replaced) whenever an item arrives or the queue
	// closes, releasing every blocked Pop to re-check.
	avail chan struct{}
}

// New returns an empty open queue.
func New() *Queue {
	return &Queue{
		buckets: make(map[int]*fifo.Queue),
		avail:   make(chan struct{}),
	}
}

// Push adds it to its priority class, stamping Sequence and EnqueuedAt.
// The stamped item is returned. Push fails only after Close.
func (q *Queue) Push(it Item) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return it, ErrClosed
	}

	q.seq++
	it.Sequence = q.seq
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now().UTC()
	}

	b, ok := q.buckets[it.Priority]
	if !ok {
		b = fifo.New()
		q.buckets[it.Priority] = b
	}
	if b.Length() == 0 {
		pos, _ := slices.BinarySearch(q.classes, it.Priority)
		q.classes = slices.Insert(q.classes, pos, it.Priority)
	}
	b.Add(it)
	q.size++

	q.broadcastLocked()
	return it, nil
}

// Pop removes and returns the highest-priority item, blocking while the
// queue is empty.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			it := q.popLocked()
			q.mu.Unlock()
			return it, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrClosed
		}
		wait := q.avail
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-wait:
		}
	}
}

// TryPop is the non-blocking form of Pop.
func (q *Queue) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Item{}, false
	}
	return q.popLocked(), true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Depths returns the number of queued items per priority class.
func (q *Queue) Depths() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[int]int, len(q.classes))
	for _, p := range q.classes {
		out[p] = q.buckets[p].Length()
	}
	return out
}

// Close stops the queue from accepting new items. Items already queued are
// still returned by Pop; once they are gone Pop returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) popLocked() Item {
	p := q.classes[0]
	b := q.buckets[p]
	it := b.Remove().(Item)
	if b.Length() == 0 {
		q.classes = q.classes[1:]
	}
	q.size--
	return it
}

func (q *Queue) broadcastLocked() {
	close(q.avail)
	q.avail = make(chan struct{})
}
