package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

// healthFailedMsg reschedules the health poll; other errors only surface.
type healthFailedMsg struct{ err error }

type workersMsg []api.WorkerInfo

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

func fetchHealth(c api.Client) tea.Msg {
	h, err := c.Health(context.Background())
	if err != nil {
		return healthFailedMsg{err}
	}
	return healthMsg(h)
}

func fetchWorkers(c api.Client) tea.Msg {
	w, err := c.Workers(context.Background())
	if err != nil {
		return errMsg(err)
	}
	return workersMsg(w)
}

// subscribe connects to the SSE /events endpoint and feeds events into ch.
// It returns sseDisconnectedMsg when the connection drops.
func subscribe(c api.Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.URL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		_ = readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an event stream, calling emit once per complete frame.
// Comment lines are ignored.
func readSSE(r io.Reader, emit func(events.Event)) error {
	sc := bufio.NewScanner(r)
	var cur events.Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Data != nil {
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = []byte(line[6:])
		}
	}
	return sc.Err()
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
