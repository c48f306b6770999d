package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roster/internal/watch"
)

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	return cmd()
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestModel_LoadsSnapshot(t *testing.T) {
	hub := newHub(t)
	id := populate(t, hub)
	m := NewModel(context.Background(), hub, nil, time.Hour)

	assert.Contains(t, m.View(), "loading")

	m, _ = update(t, m, runCmd(t, m.load()))
	require.NotNil(t, m.snap)
	assert.NoError(t, m.err)
	assert.Len(t, m.tables[viewSessions].Rows(), 1)
	assert.Equal(t, id, m.tables[viewSessions].Rows()[0][0])
	assert.Len(t, m.tables[viewLocks].Rows(), 1)
	assert.Len(t, m.tables[viewClaims].Rows(), 1)
	assert.Contains(t, m.View(), "1 active sessions")
}

func TestModel_SwitchesViews(t *testing.T) {
	m := NewModel(context.Background(), nil, nil, time.Hour)
	assert.Equal(t, viewSessions, m.view)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, viewLocks, m.view)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, viewSessions, m.view)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, viewClaims, m.view)
}

func TestModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		m := NewModel(context.Background(), nil, nil, time.Hour)
		_, cmd := update(t, m, key)
		assert.IsType(t, tea.QuitMsg{}, runCmd(t, cmd), key.String())
	}
}

func TestModel_MutationTriggersReload(t *testing.T) {
	hub := newHub(t)
	populate(t, hub)

	events := make(chan watch.MutationEvent, 1)
	m := NewModel(context.Background(), hub, events, time.Hour)
	events <- watch.MutationEvent{Key: "locks/db-migrate", Kind: watch.KindUpdated, Version: 2}

	msg := runCmd(t, m.waitForEvent())
	require.IsType(t, mutationMsg{}, msg)

	m, cmd := update(t, m, msg)
	require.NotNil(t, cmd)
	assert.True(t, m.loading)
	require.NotNil(t, m.last)
	assert.Equal(t, "locks/db-migrate", m.last.Key)
	assert.Contains(t, m.View(), "locks/db-migrate")

	// A second mutation while loading is queued rather than run.
	m, _ = update(t, m, mutationMsg{Key: "claims/x", Kind: watch.KindCreated, Version: 1})
	assert.True(t, m.dirty)

	m, cmd = update(t, m, runCmd(t, m.load()))
	assert.False(t, m.dirty)
	assert.True(t, m.loading)
	assert.NotNil(t, cmd)
}

func TestModel_EventsClosed(t *testing.T) {
	events := make(chan watch.MutationEvent)
	close(events)
	m := NewModel(context.Background(), nil, events, time.Hour)

	msg := runCmd(t, m.waitForEvent())
	assert.IsType(t, eventsClosedMsg{}, msg)
	m, _ = update(t, m, msg)
	assert.Nil(t, m.waitForEvent())
}

func TestModel_WindowResize(t *testing.T) {
	m := NewModel(context.Background(), nil, nil, time.Hour)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 40, m.height)
}

func TestModel_ViewFitsNarrowTerminal(t *testing.T) {
	m := NewModel(context.Background(), nil, nil, time.Hour)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 24, Height: 20})
	for _, line := range strings.Split(m.View(), "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 24, "line %q", line)
	}
}

func TestFitWidth(t *testing.T) {
	styled := titleStyle.Render("roster top dashboard")
	assert.Equal(t, styled, fitWidth(styled, 0))
	assert.Equal(t, styled, fitWidth(styled, 40))

	got := fitWidth(styled+"\nshort", 8)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 8, lipgloss.Width(lines[0]))
	assert.Equal(t, "short", lines[1])
}
