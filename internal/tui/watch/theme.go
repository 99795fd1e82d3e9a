// Package watch implements "herald watch", a live terminal view of a running
// manager: health, queue depth by priority, registered workers and the
// activity stream.
package watch

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/events"
)

// Theme holds every style used by the watch TUI.
type Theme struct {
	Good    lipgloss.Style
	Bad     lipgloss.Style
	Queued  lipgloss.Style
	Stream  lipgloss.Style
	Sched   lipgloss.Style
	Accent  lipgloss.Style
	Dim     lipgloss.Style
	Title   lipgloss.Style
	Border  lipgloss.Style
	PulseOn lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Theme{
		Good:    fg("#98C379"),
		Bad:     fg("#E06C75"),
		Queued:  fg("#61AFEF"),
		Stream:  fg("#E5C07B"),
		Sched:   fg("#C678DD"),
		Accent:  fg("#56B6C2").Bold(true),
		Dim:     fg("#7F848E"),
		Title:   fg("#ABB2BF").Bold(true).Padding(0, 1),
		Border:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3E4452")),
		PulseOn: fg("#98C379"),
	}
}

// Activity picks the style for a hub activity type.
func (t Theme) Activity(kind string) lipgloss.Style {
	switch kind {
	case events.EventResolved, events.WorkerStarted:
		return t.Good
	case events.EventFailed, events.EventRejected, events.EventOrphaned:
		return t.Bad
	case events.EventEnqueued:
		return t.Queued
	case events.StreamCreated, events.StreamMessage, events.StreamClosed:
		return t.Stream
	}
	if strings.HasPrefix(kind, "scheduler.") {
		return t.Sched
	}
	return t.Dim
}
