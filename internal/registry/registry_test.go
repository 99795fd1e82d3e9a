package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/worker"
)

func newHandle(key string, started time.Time) *worker.Handle {
	a, _ := worker.NewPipe()
	return &worker.Handle{Key: key, Name: "test", Channel: a, StartedAt: started}
}

func TestAddLookupRemove(t *testing.T) {
	r := New()
	h := newHandle("w1", time.Now())
	require.NoError(t, r.Add(h))

	got, ok := r.Lookup(h.Channel)
	require.True(t, ok)
	assert.Same(t, h, got)

	removed, ok := r.Remove("w1")
	require.True(t, ok)
	assert.Same(t, h, removed)

	_, ok = r.Lookup(h.Channel)
	assert.False(t, ok)
	assert.Empty(t, r.Channels())

	_, ok = r.Remove("w1")
	assert.False(t, ok)
}

func TestAddRejectsDuplicatesAndInvalid(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newHandle("w1", time.Now())))
	assert.ErrorIs(t, r.Add(newHandle("w1", time.Now())), ErrDuplicateKey)
	assert.ErrorIs(t, r.Add(&worker.Handle{Key: "x"}), ErrInvalidHandle)
	assert.ErrorIs(t, r.Add(nil), ErrInvalidHandle)
}

func TestRemoveChannel(t *testing.T) {
	r := New()
	h := newHandle("w1", time.Now())
	require.NoError(t, r.Add(h))

	got, ok := r.RemoveChannel(h.Channel)
	require.True(t, ok)
	assert.Equal(t, "w1", got.Key)
	assert.Equal(t, 0, r.Len())

	_, ok = r.RemoveChannel(h.Channel)
	assert.False(t, ok)
}

func TestChannelsIsASnapshot(t *testing.T) {
	r := New()
	base := time.Now()
	h2 := newHandle("b", base.Add(time.Second))
	h1 := newHandle("a", base)
	require.NoError(t, r.Add(h2))
	require.NoError(t, r.Add(h1))

	snap := r.Channels()
	require.Len(t, snap, 2)
	assert.Equal(t, h1.Channel.ID(), snap[0].ID())
	assert.Equal(t, h2.Channel.ID(), snap[1].ID())

	r.Remove("a")
	assert.Len(t, snap, 2, "snapshot is unaffected by later removal")
	assert.Len(t, r.Channels(), 1)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := newHandle(fmt.Sprintf("w%d", i), time.Now())
			if r.Add(h) == nil {
				r.Remove(h.Key)
			}
		}()
		go func() {
			defer wg.Done()
			for _, ch := range r.Channels() {
				r.Lookup(ch)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
