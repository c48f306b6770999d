package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/roster/internal/session"
	"github.com/Iron-Ham/roster/internal/watch"
)

// DefaultRefreshInterval is how often the dashboard reloads without any
// mutation events, so liveness ages keep moving.
const DefaultRefreshInterval = 2 * time.Second

type view int

const (
	viewSessions view = iota
	viewLocks
	viewClaims
	viewCount
)

var viewNames = [viewCount]string{"Sessions", "Locks", "Claims"}

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

type mutationMsg watch.MutationEvent

type eventsClosedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model behind `roster top`.
type Model struct {
	ctx      context.Context
	src      Source
	events   <-chan watch.MutationEvent
	interval time.Duration

	view    view
	tables  [viewCount]table.Model
	snap    *Snapshot
	err     error
	last    *watch.MutationEvent
	loading bool
	dirty   bool
	width   int
	height  int
}

// NewModel creates the dashboard model. events may be nil, in which case
// the view only refreshes on its interval.
func NewModel(ctx context.Context, src Source, events <-chan watch.MutationEvent, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	m := Model{ctx: ctx, src: src, events: events, interval: interval}
	m.tables[viewSessions] = newTable([]table.Column{
		{Title: "Session", Width: 36},
		{Title: "State", Width: 10},
		{Title: "PID", Width: 8},
		{Title: "Host", Width: 16},
		{Title: "Heartbeat", Width: 10},
		{Title: "Holds", Width: 5},
	})
	m.tables[viewLocks] = newTable(holdingColumns("Lock"))
	m.tables[viewClaims] = newTable(holdingColumns("Task"))
	return m
}

func holdingColumns(name string) []table.Column {
	return []table.Column{
		{Title: name, Width: 28},
		{Title: "Holder", Width: 36},
		{Title: "State", Width: 11},
		{Title: "Held for", Width: 10},
	}
}

func newTable(cols []table.Column) table.Model {
	t := table.New(table.WithColumns(cols), table.WithHeight(10))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(borderColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#F9FAFB")).Background(primaryColor)
	t.SetStyles(styles)
	return t
}

// Init starts the first load, the refresh tick and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick(), m.waitForEvent())
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		snap, err := Collect(m.ctx, m.src)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return mutationMsg(ev)
	}
}

// requestLoad coalesces reloads: one load runs at a time and at most one
// more is queued behind it.
func (m *Model) requestLoad() tea.Cmd {
	if m.loading {
		m.dirty = true
		return nil
	}
	m.loading = true
	return m.load()
}

// Update handles input, snapshots and store mutations.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "right", "l":
			m.view = (m.view + 1) % viewCount
			return m, nil
		case "shift+tab", "left", "h":
			m.view = (m.view + viewCount - 1) % viewCount
			return m, nil
		case "r":
			cmd := m.requestLoad()
			return m, cmd
		}
		var cmd tea.Cmd
		m.tables[m.view], cmd = m.tables[m.view].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		for i := range m.tables {
			m.tables[i].SetHeight(max(3, msg.Height-8))
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.fillTables()
		}
		if m.dirty {
			m.dirty = false
			cmd := m.requestLoad()
			return m, cmd
		}
		return m, nil

	case mutationMsg:
		ev := watch.MutationEvent(msg)
		m.last = &ev
		cmd := m.requestLoad()
		return m, tea.Batch(cmd, m.waitForEvent())

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case tickMsg:
		cmd := m.requestLoad()
		return m, tea.Batch(cmd, m.tick())
	}
	return m, nil
}

func (m *Model) fillTables() {
	now := m.snap.TakenAt
	rows := make([]table.Row, 0, len(m.snap.Sessions))
	for _, r := range m.snap.Sessions {
		state := "stale"
		switch {
		case r.Status != session.StatusActive:
			state = string(r.Status)
		case r.Alive:
			state = "alive"
		}
		rows = append(rows, table.Row{
			r.ID, state, strconv.Itoa(r.OwnerPID), r.Hostname, age(now, r.LastHeartbeat), strconv.Itoa(r.Holds),
		})
	}
	m.tables[viewSessions].SetRows(rows)

	for v, entries := range map[view][]holdingRow{
		viewLocks:  holdingRows(m.snap.Locks, now),
		viewClaims: holdingRows(m.snap.Claims, now),
	} {
		rows := make([]table.Row, len(entries))
		for i, e := range entries {
			rows[i] = table.Row(e)
		}
		m.tables[v].SetRows(rows)
	}
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("roster top"))
	b.WriteString("  ")
	for v := view(0); v < viewCount; v++ {
		label := viewNames[v]
		if v == m.view {
			b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render("[" + label + "]"))
		} else {
			b.WriteString(mutedStyle.Render(" " + label + " "))
		}
		b.WriteString(" ")
	}
	b.WriteString("\n\n")

	if m.snap == nil && m.err == nil {
		b.WriteString(mutedStyle.Render("loading..."))
	} else {
		b.WriteString(m.tables[m.view].View())
	}
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(deadStyle.Render("error: " + m.err.Error()))
	case m.snap != nil:
		fmt.Fprintf(&b, "%d active sessions  %d locks  %d claims  backlog %d/%d done",
			m.snap.ActiveSessions(), len(m.snap.Locks), len(m.snap.Claims), m.snap.Backlog.Completed, m.snap.Backlog.Total)
	}
	if m.last != nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  last: %s %s", m.last.Kind, m.last.Key)))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab: switch view  r: refresh  q: quit"))
	return fitWidth(b.String(), m.width)
}

// fitWidth truncates every line of s to width columns, keeping styling
// intact. width <= 0 leaves s unchanged.
func fitWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "…")
		}
	}
	return strings.Join(lines, "\n")
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source, events <-chan watch.MutationEvent, interval time.Duration) error {
	p := tea.NewProgram(NewModel(ctx, src, events, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	// A cancelled context kills the program; that is a normal exit.
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
