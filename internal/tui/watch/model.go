package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/events"
)

const (
	healthInterval    = 5 * time.Second
	reconnectInterval = 3 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client api.Client

	width  int
	height int

	health   HealthState
	workers  workerSet
	eventLog []events.Event

	pulse Pulse
	table table.Model
	theme Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) Model {
	return Model{
		client:    api.Client{URL: apiURL, APIKey: apiKey},
		workers:   workerSet{},
		hubEvents: make(chan events.Event, 100),
		table:     newWorkerTable(),
		theme:     NewDefaultTheme(),
	}
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey), tea.WithAltScreen()).Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) pollLater() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.client) })
}

func (m Model) refresh() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchHealth(m.client) },
		func() tea.Msg { return fetchWorkers(m.client) },
	)
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.refresh(),
		tick(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.pulse.Tick(time.Time(msg))
		m.table.SetRows(workerRows(m.workers, time.Time(msg)))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.pulse.Event(time.Now())
		m.workers.apply(e)
		m.table.SetRows(workerRows(m.workers, time.Now()))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.HealthzResponse = api.HealthzResponse(msg)
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, m.pollLater()

	case workersMsg:
		m.workers.reset(msg)
		m.table.SetRows(workerRows(m.workers, time.Now()))

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading hubEvents, which the
		// new subscription feeds.
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, tea.Batch(subscribe(m.client, m.hubEvents), func() tea.Msg { return fetchWorkers(m.client) })

	case healthFailedMsg:
		m.health.Connected = false
		m.lastError = msg.err.Error()
		return m, m.pollLater()

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to herald..."
	}

	parts := []string{
		renderHeader(m.health, m.pulse, m.theme, m.width),
		renderWorkers(m.table, len(m.workers), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] quit • [r] refresh • [↑/↓] workers"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
