package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAgainstServer(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	c := Client{URL: ts.URL, APIKey: adminKey}

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.QueueDepth)

	sub, err := c.Submit(ctx, SubmitRequest{Type: "alert"})
	require.NoError(t, err)
	assert.Equal(t, "ev-1", sub.EventID)

	w, err := c.StartWorker(ctx, "echo", StartWorkerRequest{})
	require.NoError(t, err)
	assert.Equal(t, "k-echo", w.Key)

	list, err := c.Workers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.StopWorker(ctx, "k-echo"))

	entries, err := c.Journal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, f.journal.limit)

	err = c.StopWorker(ctx, "ghost")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "worker not found", se.Message)

	_, err = Client{URL: ts.URL, APIKey: "wrong"}.Workers(ctx)
	assert.ErrorContains(t, err, "401")
}
