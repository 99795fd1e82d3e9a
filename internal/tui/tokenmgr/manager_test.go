package tokenmgr

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/auth"
)

func press(t *testing.T, m tea.Model, keys ...tea.KeyMsg) tea.Model {
	t.Helper()
	for _, k := range keys {
		m, _ = m.Update(k)
	}
	return m
}

func TestPickerTogglesAndConfirms(t *testing.T) {
	var m tea.Model = New()
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})

	space := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{' '}}
	down := tea.KeyMsg{Type: tea.KeyDown}
	enter := tea.KeyMsg{Type: tea.KeyEnter}

	// Toggle "*" on and off again, then select the next scope.
	m = press(t, m, space, space, down, space, enter)

	got := m.(Model).Selected()
	assert.Equal(t, []string{auth.ScopeEventsRO}, got)
	assert.Contains(t, m.View(), auth.ScopeEventsRO)
}

func TestPickerCancel(t *testing.T) {
	var m tea.Model = New()
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, m.(Model).Selected())
	assert.Contains(t, m.View(), "Cancelled")
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
