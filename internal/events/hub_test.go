package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(EventEnqueued, map[string]int{"n": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)

	var data map[string]int
	require.NoError(t, json.Unmarshal(snap[2].Data, &data))
	assert.Equal(t, 4, data["n"])

	assert.Len(t, h.SnapshotSince(4), 1)
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(WorkerStarted, nil)

	select {
	case ev := <-ch:
		assert.Equal(t, WorkerStarted, ev.Type)
		assert.Equal(t, "{}", string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		h.Publish(StreamMessage, nil)
	}
	assert.Equal(t, int64(200-128), h.Dropped())
}

func TestNilHubIsSilent(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(EventFailed, nil) })
}
