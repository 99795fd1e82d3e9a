package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/events"
)

// WorkerRow is one registered worker as seen by the TUI.
type WorkerRow struct {
	Key       string
	Name      string
	PID       int
	StartedAt time.Time
	Streams   map[string]bool // open streams
	LastEvent string
	LastSeen  time.Time
}

// workerSet is keyed by worker key.
type workerSet map[string]*WorkerRow

// reset replaces the set with a /workers snapshot, keeping stream state for
// workers that are still present.
func (s workerSet) reset(list []api.WorkerInfo) {
	seen := make(map[string]bool, len(list))
	for _, w := range list {
		seen[w.Key] = true
		row, ok := s[w.Key]
		if !ok {
			row = &WorkerRow{Key: w.Key, Streams: map[string]bool{}}
			s[w.Key] = row
		}
		row.Name, row.PID, row.StartedAt = w.Name, w.PID, w.StartedAt
	}
	for key := range s {
		if !seen[key] {
			delete(s, key)
		}
	}
}

// apply folds one activity event into the set.
func (s workerSet) apply(e events.Event) {
	var data struct {
		Key       string `json:"worker_key"`
		Name      string `json:"worker"`
		PID       int    `json:"pid"`
		EventType string `json:"event_type"`
		Stream    string `json:"stream"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Key == "" {
		return
	}

	if e.Type == events.WorkerQuit {
		delete(s, data.Key)
		return
	}

	row, ok := s[data.Key]
	if !ok {
		if e.Type != events.WorkerStarted && e.Type != events.StreamCreated {
			return
		}
		row = &WorkerRow{Key: data.Key, Name: data.Name, StartedAt: e.At, Streams: map[string]bool{}}
		s[data.Key] = row
	}
	if data.PID != 0 {
		row.PID = data.PID
	}
	row.LastEvent = data.EventType
	row.LastSeen = e.At

	switch e.Type {
	case events.StreamCreated:
		row.Streams[data.Stream] = true
	case events.StreamClosed:
		delete(row.Streams, data.Stream)
	}
}

func (s workerSet) sorted() []*WorkerRow {
	out := make([]*WorkerRow, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 10},
			{Title: "Worker", Width: 18},
			{Title: "PID", Width: 7},
			{Title: "Up", Width: 8},
			{Title: "Streams", Width: 7},
			{Title: "Last event", Width: 20},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func workerRows(set workerSet, now time.Time) []table.Row {
	sorted := set.sorted()
	rows := make([]table.Row, 0, len(sorted))
	for _, w := range sorted {
		up := "-"
		if !w.StartedAt.IsZero() {
			up = formatDuration(now.Sub(w.StartedAt))
		}
		rows = append(rows, table.Row{
			shortID(w.Key),
			w.Name,
			fmt.Sprint(w.PID),
			up,
			fmt.Sprint(len(w.Streams)),
			w.LastEvent,
		})
	}
	return rows
}

func renderWorkers(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("WORKERS (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No workers running")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
