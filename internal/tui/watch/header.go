package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/api"
)

// HealthState is the last /healthz answer plus connection state.
type HealthState struct {
	api.HealthzResponse
	Connected bool
	LastCheck time.Time
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Good.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.Bad.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.Bad.Render("DEGRADED")
	}

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(pulse.LastEvent()).Round(time.Second))
	}

	title := fmt.Sprintf(" HERALD WATCH %s", theme.Accent.Render(pulse.Frame()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  queue %d %s  workers %d  watching %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.QueueDepth,
		theme.Dim.Render(formatDepths(health.QueueByClass)),
		health.Workers,
		health.WatchSize,
	)

	d := health.Dispatch
	dispatchLine := fmt.Sprintf(" resolved %s  failed %s  panicked %s",
		theme.Good.Render(fmt.Sprint(d.Resolved)),
		theme.Bad.Render(fmt.Sprint(d.Failed)),
		theme.Bad.Render(fmt.Sprint(d.Panicked)),
	)

	activityLine := fmt.Sprintf(" last event %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, dispatchLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

// formatDepths renders per-priority depth as "[p1:2 p5:1]", highest
// priority (lowest number) first.
func formatDepths(depths map[int]int) string {
	if len(depths) == 0 {
		return ""
	}
	prios := make([]int, 0, len(depths))
	for p := range depths {
		prios = append(prios, p)
	}
	sort.Ints(prios)
	parts := make([]string, len(prios))
	for i, p := range prios {
		parts[i] = fmt.Sprintf("p%d:%d", p, depths[p])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
