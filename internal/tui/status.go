package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/session"
)

// shortID trims uuids for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

// livenessLabel renders the session state as one word.
func livenessLabel(r SessionRow) string {
	switch {
	case r.Status == session.StatusTerminated:
		return deadStyle.Render("terminated")
	case r.Alive:
		return aliveStyle.Render("alive")
	default:
		return staleStyle.Render("stale")
	}
}

// RenderStatus renders a snapshot as a static, boxed report. width <= 0
// leaves the box unconstrained.
func RenderStatus(s *Snapshot, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("roster status"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %s", s.TakenAt.Format("15:04:05"))))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("Sessions (%d active)", s.ActiveSessions())))
	b.WriteString("\n")
	if len(s.Sessions) == 0 {
		b.WriteString(mutedStyle.Render("  none"))
		b.WriteString("\n")
	}
	for _, r := range s.Sessions {
		fmt.Fprintf(&b, "  %-8s  %s  pid %d@%s  heartbeat %s ago  holds %d\n",
			shortID(r.ID), livenessLabel(r), r.OwnerPID, r.Hostname, age(s.TakenAt, r.LastHeartbeat), r.Holds)
	}

	writeHoldings(&b, "Locks", s.Locks, s.TakenAt)
	writeHoldings(&b, "Task claims", s.Claims, s.TakenAt)

	b.WriteString(headerStyle.Render("Backlog"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %d total  %d pending  %d claimed  %d blocked  %d completed",
		s.Backlog.Total, s.Backlog.Pending, s.Backlog.Claimed, s.Backlog.Blocked, s.Backlog.Completed)

	box := boxStyle
	if width > 0 {
		box = box.Width(width - 2)
	}
	return box.Render(b.String())
}

func writeHoldings(b *strings.Builder, title string, entries []claim.Entry, now time.Time) {
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d held)", title, len(entries))))
	b.WriteString("\n")
	if len(entries) == 0 {
		b.WriteString(mutedStyle.Render("  none"))
		b.WriteString("\n")
		return
	}
	for _, e := range entries {
		state := aliveStyle.Render("live")
		if !e.Alive {
			state = staleStyle.Render("reclaimable")
		}
		var since time.Time
		if e.AcquiredAt != nil {
			since = *e.AcquiredAt
		}
		fmt.Fprintf(b, "  %-24s  %s  %s  for %s\n",
			e.Name, shortID(e.Holder), state, age(now, since))
	}
}

type holdingRow []string

func holdingRows(entries []claim.Entry, now time.Time) []holdingRow {
	rows := make([]holdingRow, 0, len(entries))
	for _, e := range entries {
		state := "live"
		if !e.Alive {
			state = "reclaimable"
		}
		var since time.Time
		if e.AcquiredAt != nil {
			since = *e.AcquiredAt
		}
		rows = append(rows, holdingRow{e.Name, e.Holder, state, age(now, since)})
	}
	return rows
}
