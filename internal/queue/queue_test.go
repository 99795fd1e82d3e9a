package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/protocol"
)

func push(t *testing.T, q *Queue, typ string, prio int) Item {
	t.Helper()
	it, err := q.Push(Item{Event: protocol.Event{Type: typ}, Priority: prio})
	require.NoError(t, err)
	return it
}

func drain(t *testing.T, q *Queue) []Item {
	t.Helper()
	var out []Item
	for {
		it, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, it)
	}
}

func TestPopReturnsAscendingPriority(t *testing.T) {
	q := New()
	for _, p := range []int{7, 2, 9, 0, 4, -3} {
		push(t, q, "t", p)
	}

	var got []int
	for _, it := range drain(t, q) {
		got = append(got, it.Priority)
	}
	assert.Equal(t, []int{-3, 0, 2, 4, 7, 9}, got)
}

func TestSamePriorityIsFIFO(t *testing.T) {
	q := New()
	a := push(t, q, "a", 3)
	b := push(t, q, "b", 3)

	first, err := q.Pop(context.Background())
	require.NoError(t, err)
	second, err := q.Pop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Sequence, first.Sequence)
	assert.Equal(t, "a", first.Event.Type)
	assert.Equal(t, b.Sequence, second.Sequence)
	assert.True(t, first.Before(second))
}

func TestMixedPrioritiesKeepArrivalOrderWithinClass(t *testing.T) {
	q := New()
	push(t, q, "five-first", 5)
	push(t, q, "one", 1)
	push(t, q, "five-second", 5)
	push(t, q, "three", 3)

	var got []string
	for _, it := range drain(t, q) {
		got = append(got, it.Event.Type)
	}
	assert.Equal(t, []string{"one", "three", "five-first", "five-second"}, got)
}

func TestSequenceIsStrictlyIncreasing(t *testing.T) {
	q := New()
	var last uint64
	for i := 0; i < 20; i++ {
		it := push(t, q, "t", i%3)
		assert.Greater(t, it.Sequence, last)
		assert.False(t, it.EnqueuedAt.IsZero())
		last = it.Sequence
	}
	assert.Equal(t, map[int]int{0: 7, 1: 7, 2: 6}, q.Depths())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	got := make(chan Item, 1)
	go func() {
		it, err := q.Pop(context.Background())
		if err == nil {
			got <- it
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	push(t, q, "late", 1)

	select {
	case it := <-got:
		assert.Equal(t, "late", it.Event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	q := New()
	push(t, q, "a", 2)
	push(t, q, "b", 1)
	q.Close()
	q.Close()

	_, err := q.Push(Item{Event: protocol.Event{Type: "c"}})
	assert.ErrorIs(t, err, ErrClosed)

	it, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", it.Event.Type)
	it, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", it.Event.Type)

	_, err = q.Pop(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCloseReleasesBlockedConsumers(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, _ = q.Push(Item{Event: protocol.Event{Type: "x"}, Priority: (p + i) % 5})
			}
		}()
	}

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var cwg sync.WaitGroup
	for i := 0; i < 4; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				it, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[it.Sequence] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	q.Close()
	cwg.Wait()

	assert.Len(t, seen, producers*perProducer)
	assert.Equal(t, 0, q.Len())
}
