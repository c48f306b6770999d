// Package tui renders roster state for terminals: a one-shot status view
// styled with lipgloss and a live bubbletea dashboard.
package tui

import (
	"context"
	"time"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/lock"
	"github.com/Iron-Ham/roster/internal/session"
	"github.com/Iron-Ham/roster/internal/taskqueue"
)

// Source is the subset of coordination.Hub the views read from.
type Source interface {
	Sessions() *session.Manager
	Locks() *lock.Manager
	Tasks() *taskqueue.Manager
}

// SessionRow is one session with its derived liveness and holdings.
type SessionRow struct {
	ID            string         `json:"session_id"`
	Status        session.Status `json:"status"`
	Alive         bool           `json:"alive"`
	OwnerPID      int            `json:"owner_pid"`
	Hostname      string         `json:"hostname,omitempty"`
	LastHeartbeat time.Time      `json:"last_heartbeat_at"`
	Holds         int            `json:"holds"`
}

// Snapshot is everything the views display, read at one moment.
type Snapshot struct {
	TakenAt  time.Time               `json:"taken_at"`
	Sessions []SessionRow            `json:"sessions"`
	Locks    []claim.Entry           `json:"locks"`
	Claims   []claim.Entry           `json:"claims"`
	Backlog  taskqueue.BacklogStatus `json:"backlog"`
}

// Collect reads a Snapshot from src.
func Collect(ctx context.Context, src Source) (*Snapshot, error) {
	sessions, err := src.Sessions().List(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := src.Locks().List(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := src.Tasks().Claims(ctx)
	if err != nil {
		return nil, err
	}
	backlog, err := src.Tasks().Status(ctx)
	if err != nil {
		return nil, err
	}

	holds := make(map[string]int)
	for _, e := range append(append([]claim.Entry{}, locks...), claims...) {
		if e.Held() {
			holds[e.Holder]++
		}
	}

	snap := &Snapshot{
		TakenAt: time.Now(),
		Locks:   heldOnly(locks),
		Claims:  heldOnly(claims),
		Backlog: backlog,
	}
	for _, s := range sessions {
		snap.Sessions = append(snap.Sessions, SessionRow{
			ID:            s.ID,
			Status:        s.Status,
			Alive:         src.Sessions().Alive(s),
			OwnerPID:      s.OwnerPID,
			Hostname:      s.Hostname,
			LastHeartbeat: s.LastHeartbeatAt,
			Holds:         holds[s.ID],
		})
	}
	return snap, nil
}

// heldOnly drops released tombstones.
func heldOnly(entries []claim.Entry) []claim.Entry {
	var out []claim.Entry
	for _, e := range entries {
		if e.Held() {
			out = append(out, e)
		}
	}
	return out
}

// ActiveSessions counts sessions still marked active.
func (s *Snapshot) ActiveSessions() int {
	n := 0
	for _, r := range s.Sessions {
		if r.Status == session.StatusActive {
			n++
		}
	}
	return n
}
