package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/events"
)

const (
	eventLogSize  = 50
	eventsVisible = 10
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, eventsVisible)
	for _, e := range eventLog[:min(len(eventLog), eventsVisible)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	style := theme.Activity(e.Type)

	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-16s", e.Type)),
		describe(e),
	)
}

// describe picks the interesting fields out of an activity payload.
func describe(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if t, ok := data["event_type"].(string); ok && t != "" {
		parts = append(parts, t)
	}
	if p, ok := data["priority"].(float64); ok {
		parts = append(parts, fmt.Sprintf("p%d", int(p)))
	}
	if w, ok := data["worker"].(string); ok && w != "" {
		parts = append(parts, w)
	}
	if k, ok := data["worker_key"].(string); ok {
		parts = append(parts, "["+shortID(k)+"]")
	}
	if s, ok := data["stream"].(string); ok && s != "" {
		parts = append(parts, "stream="+s)
	}
	if msg, ok := data["error"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
