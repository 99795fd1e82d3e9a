package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/manager"
	"github.com/mattjoyce/herald/internal/plugin"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/worker"
)

type fakeStarter struct {
	name    string
	ev      protocol.Event
	resolve worker.ResolveFunc
	err     error
}

func (f *fakeStarter) StartWorker(_ context.Context, ev protocol.Event, resolve worker.ResolveFunc, opts ...manager.StartOption) (*worker.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	var req worker.SpawnRequest
	for _, opt := range opts {
		opt(&req)
	}
	f.name, f.ev, f.resolve = req.Name, ev, resolve
	return &worker.Handle{Key: "k1", Name: req.Name}, nil
}

type fakeSubmitter struct {
	mu  sync.Mutex
	got []protocol.Event
}

func (f *fakeSubmitter) Submit(_ context.Context, ev protocol.Event) (protocol.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	return ev, nil
}

func testCatalog(t *testing.T) *plugin.Catalog {
	t.Helper()
	c := plugin.NewCatalog()
	require.NoError(t, c.Add(&plugin.Plugin{Name: "notifier", Handles: []string{"alert"}, Emits: []string{"notified"}}))
	require.NoError(t, c.Add(&plugin.Plugin{Name: "any"}))
	return c
}

func TestNewValidatesRoutes(t *testing.T) {
	cat := testCatalog(t)

	_, err := New(map[string]string{"alert": "notifier", "report": "any"}, cat, &fakeSubmitter{})
	require.NoError(t, err)

	_, err = New(map[string]string{"alert": "ghost"}, cat, &fakeSubmitter{})
	assert.ErrorContains(t, err, "unknown worker")

	_, err = New(map[string]string{"report": "notifier"}, cat, &fakeSubmitter{})
	assert.ErrorContains(t, err, "does not handle")
}

func TestResolveStartsRoutedWorker(t *testing.T) {
	r, err := New(map[string]string{"alert": "notifier"}, testCatalog(t), &fakeSubmitter{})
	require.NoError(t, err)

	err = r.Resolve(context.Background(), protocol.Event{Type: "alert"})
	assert.Error(t, err, "unbound resolver")

	st := &fakeStarter{}
	r.Bind(st)
	require.NoError(t, r.Resolve(context.Background(), protocol.Event{Type: "alert", EventID: "e1"}))
	assert.Equal(t, "notifier", st.name)
	assert.Equal(t, "e1", st.ev.EventID)
	assert.NotNil(t, st.resolve)

	err = r.Resolve(context.Background(), protocol.Event{Type: "unrouted"})
	assert.ErrorIs(t, err, ErrNoRoute)

	st.err = worker.ErrUnknownWorker
	err = r.Resolve(context.Background(), protocol.Event{Type: "alert"})
	assert.True(t, errors.Is(err, worker.ErrUnknownWorker))

	assert.Equal(t, []string{"alert"}, r.EventTypes())
}

func TestEmittedResubmitsDeclaredTypes(t *testing.T) {
	sub := &fakeSubmitter{}
	r, err := New(map[string]string{"alert": "notifier"}, testCatalog(t), sub)
	require.NoError(t, err)

	emit := r.Emitted("notifier")
	require.NoError(t, emit(context.Background(), protocol.Event{Type: "notified", EventID: "worker-id", Payload: map[string]any{"to": "ops"}}))
	err = emit(context.Background(), protocol.Event{Type: "surprise"})
	assert.ErrorIs(t, err, ErrUndeclaredEmit)

	r.Wait()
	require.Len(t, sub.got, 1)
	assert.Equal(t, "notified", sub.got[0].Type)
	assert.Equal(t, "notifier", sub.got[0].Source)
	assert.Empty(t, sub.got[0].EventID)
	assert.Equal(t, "ops", sub.got[0].Payload["to"])
}

func TestStartByName(t *testing.T) {
	r, err := New(nil, testCatalog(t), &fakeSubmitter{})
	require.NoError(t, err)
	st := &fakeStarter{}
	r.Bind(st)

	h, err := r.Start(context.Background(), "any", protocol.Event{Type: "manual"})
	require.NoError(t, err)
	assert.Equal(t, "any", h.Name)
	assert.Equal(t, "manual", st.ev.Type)

	_, err = r.Start(context.Background(), "ghost", protocol.Event{})
	assert.ErrorIs(t, err, worker.ErrUnknownWorker)
}
