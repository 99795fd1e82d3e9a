package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/auth"
	"github.com/mattjoyce/herald/internal/dispatch"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/journal"
	"github.com/mattjoyce/herald/internal/manager"
	"github.com/mattjoyce/herald/internal/protocol"
	"github.com/mattjoyce/herald/internal/registry"
	"github.com/mattjoyce/herald/internal/router"
	"github.com/mattjoyce/herald/internal/worker"
)

const adminKey = "admin-secret"

type fakeMonitor struct {
	reg *registry.Registry
}

func (f *fakeMonitor) Registry() *registry.Registry { return f.reg }
func (f *fakeMonitor) QueueDepth() int              { return 3 }
func (f *fakeMonitor) QueueDepths() map[int]int     { return map[int]int{1: 2, 5: 1} }
func (f *fakeMonitor) Stats() dispatch.Stats        { return dispatch.Stats{Resolved: 7, Failed: 1} }
func (f *fakeMonitor) WatchSet() []string           { return []string{"a", "b"} }

type fakeRouter struct {
	mu  sync.Mutex
	got []protocol.Event
	err error
}

func (f *fakeRouter) Submit(_ context.Context, ev protocol.Event) (protocol.Event, error) {
	if f.err != nil {
		return protocol.Event{}, f.err
	}
	if ev.Type == "" {
		return ev, protocol.ErrEmptyType
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.EventID = "ev-1"
	f.got = append(f.got, ev)
	return ev, nil
}

type fakeStarter struct {
	reg  *registry.Registry
	name string
	ev   protocol.Event
	err  error
}

func (f *fakeStarter) Start(_ context.Context, name string, ev protocol.Event) (*worker.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.name, f.ev = name, ev
	a, _ := worker.NewPipe()
	h := &worker.Handle{Key: "k-" + name, Name: name, PID: 42, Channel: a, StartedAt: time.Now()}
	return h, f.reg.Add(h)
}

type fakeStopper struct {
	stopped []string
}

func (f *fakeStopper) Stop(_ context.Context, key string) error {
	f.stopped = append(f.stopped, key)
	return nil
}

type fakeJournal struct {
	limit int
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.limit = limit
	return []journal.Entry{{EventID: "e1", EventType: "alert", Status: journal.StatusResolved}}, nil
}

type fixture struct {
	srv     *Server
	router  *fakeRouter
	starter *fakeStarter
	stopper *fakeStopper
	journal *fakeJournal
	hub     *events.Hub
	reg     *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	f := &fixture{
		router:  &fakeRouter{},
		starter: &fakeStarter{reg: reg},
		stopper: &fakeStopper{},
		journal: &fakeJournal{},
		hub:     events.NewHub(16),
		reg:     reg,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f.srv = New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeEventsRO, auth.ScopeWorkersRO}},
			{Token: "submitter", Scopes: []string{auth.ScopeEventsRW}},
		},
	}, Deps{
		Router:  f.router,
		Manager: &fakeMonitor{reg: reg},
		Starter: f.starter,
		Stopper: f.stopper,
		Journal: f.journal,
		Hub:     f.hub,
	}, logger)
	return f
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.QueueDepth)
	assert.Equal(t, map[int]int{1: 2, 5: 1}, resp.QueueByClass)
	assert.Equal(t, 2, resp.WatchSize)
	assert.Equal(t, int64(7), resp.Dispatch.Resolved)
}

func TestAuthAndScopes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"missing token", http.MethodGet, "/workers", "", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/workers", "nope", "", http.StatusUnauthorized},
		{"reader lists workers", http.MethodGet, "/workers", "reader", "", http.StatusOK},
		{"reader cannot submit", http.MethodPost, "/events", "reader", `{"type":"x"}`, http.StatusForbidden},
		{"submitter can submit", http.MethodPost, "/events", "submitter", `{"type":"x"}`, http.StatusAccepted},
		{"reader cannot read journal", http.MethodGet, "/journal", "reader", "", http.StatusForbidden},
		{"admin reads journal", http.MethodGet, "/journal", adminKey, "", http.StatusOK},
		{"reader cannot start workers", http.MethodPost, "/workers/echo", "reader", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSubmitEvent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/events", adminKey, `{"type":"alert","payload":{"level":"high"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ev-1", resp.EventID)

	require.Len(t, f.router.got, 1)
	assert.Equal(t, "api", f.router.got[0].Source)
	assert.Equal(t, "high", f.router.got[0].Payload["level"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/events", adminKey, `{"payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/events", adminKey, `not json`).Code)

	f.router.err = router.ErrClosed
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/events", adminKey, `{"type":"alert"}`).Code)
}

func TestStartListAndStopWorker(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/workers/echo", adminKey, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "echo", f.starter.name)
	assert.Equal(t, DefaultStartEventType, f.starter.ev.Type)

	rec = f.do(http.MethodGet, "/workers", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list WorkersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Workers, 1)
	assert.Equal(t, "k-echo", list.Workers[0].Key)
	assert.Equal(t, 42, list.Workers[0].PID)
	assert.NotEmpty(t, list.Workers[0].Channel)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/workers/k-echo", adminKey, "").Code)
	assert.Equal(t, []string{"k-echo"}, f.stopper.stopped)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/workers/ghost", adminKey, "").Code)
}

func TestStartWorkerErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/workers/echo", adminKey, `{"type":"custom","payload":{"n":1}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "custom", f.starter.ev.Type)

	f.starter.err = worker.ErrUnknownWorker
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/workers/ghost", adminKey, "").Code)

	f.starter.err = manager.ErrClosed
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/workers/echo", adminKey, "").Code)
}

func TestJournalLimit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/journal?limit=5", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.journal.limit)
	assert.Contains(t, rec.Body.String(), `"event_id":"e1"`)

	f.do(http.MethodGet, "/journal?limit=100000", adminKey, "")
	assert.Equal(t, maxJournalLimit, f.journal.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/journal?limit=-1", adminKey, "").Code)
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish(events.EventEnqueued, map[string]any{"event_type": "alert"})

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer reader")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		return ""
	}

	assert.Equal(t, events.EventEnqueued, next())
	f.hub.Publish(events.EventResolved, nil)
	assert.Equal(t, events.EventResolved, next())
}

func TestSSEFraming(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("bogus"))
	assert.Equal(t, int64(12), parseLastEventID("12"))

	rec := httptest.NewRecorder()
	require.NoError(t, writeSSE(rec, events.Event{ID: 3, Type: "event.failed", Data: []byte(`{"a":1}`)}))
	assert.Equal(t, "id: 3\nevent: event.failed\ndata: {\"a\":1}\n\n", rec.Body.String())
}
