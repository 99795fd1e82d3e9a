// Package tokenmgr is the interactive scope picker behind
// "herald config token".
package tokenmgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/auth"
)

var (
	titleStyle    = lipgloss.NewStyle().MarginLeft(2)
	quitTextStyle = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every scope the API understands, in display order.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopeAll, "Full administrative access"},
	{auth.ScopeEventsRO, "Follow the activity stream (SSE)"},
	{auth.ScopeEventsRW, "Submit events to the router"},
	{auth.ScopeWorkersRO, "List running workers"},
	{auth.ScopeWorkersRW, "Start and stop workers"},
	{auth.ScopeJournalRO, "Read the dispatch journal"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

type Model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func New() Model {
	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select scopes (space to toggle, enter to confirm)"
	l.Styles.Title = titleStyle
	return Model{list: l}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ":
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = m.selected()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) selected() []string {
	var out []string
	for _, li := range m.list.Items() {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

func (m Model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render("Selected scopes: " + strings.Join(m.scopes, ", "))
	}
	return "\n" + m.list.View()
}

// Selected returns the confirmed scopes, or nil when the picker was cancelled.
func (m Model) Selected() []string {
	if !m.done {
		return nil
	}
	return m.scopes
}

// Pick runs the picker on the terminal and returns the chosen scopes.
func Pick() ([]string, error) {
	final, err := tea.NewProgram(New()).Run()
	if err != nil {
		return nil, err
	}
	return final.(Model).Selected(), nil
}

// NewToken returns a random 32-byte hex bearer token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
