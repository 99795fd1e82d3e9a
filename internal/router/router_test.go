package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/protocol"
)

func TestSubmitStampsEvent(t *testing.T) {
	r := New(1)
	ev, err := r.Submit(context.Background(), protocol.Event{Type: "alert"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.EventID)
	assert.False(t, ev.Timestamp.IsZero())

	got := <-r.Events()
	assert.Equal(t, ev.EventID, got.EventID)

	_, err = r.Submit(context.Background(), protocol.Event{EventID: "keep", Type: "alert"})
	require.NoError(t, err)
	assert.Equal(t, "keep", (<-r.Events()).EventID)
}

func TestSubmitRejectsEmptyType(t *testing.T) {
	r := New(1)
	_, err := r.Submit(context.Background(), protocol.Event{Type: "  "})
	assert.ErrorIs(t, err, protocol.ErrEmptyType)
}

func TestCloseReleasesBlockedSubmitters(t *testing.T) {
	r := New(0)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Submit(context.Background(), protocol.Event{Type: "alert"})
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	r.Close()
	r.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	_, ok := <-r.Events()
	assert.False(t, ok)
}

func TestSubmitHonoursContext(t *testing.T) {
	r := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Submit(ctx, protocol.Event{Type: "alert"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadLines(t *testing.T) {
	r := New(10)
	in := strings.NewReader(`{"type":"alert","payload":{"n":1}}

not json
{"type":"report","source":"cron"}
`)

	n, err := r.ReadLines(context.Background(), in, "stdin")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first := <-r.Events()
	assert.Equal(t, "alert", first.Type)
	assert.Equal(t, "stdin", first.Source)

	second := <-r.Events()
	assert.Equal(t, "cron", second.Source)
}
