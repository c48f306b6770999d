package taskqueue

import (
	"context"
	"time"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

// Outcome is the result of Claim: granted, or denied naming the claimant.
type Outcome = claim.Outcome

// Manager claims and releases tasks and owns the shared backlog.
type Manager struct {
	table   *claim.Table
	backlog *Backlog
	bus     *event.Bus
	logger  *logging.Logger
}

type config struct {
	retry  record.RetryPolicy
	now    func() time.Time
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*config)

// WithRetryPolicy bounds retries of conflicting conditional writes.
func WithRetryPolicy(p record.RetryPolicy) Option {
	return func(c *config) { c.retry = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBus publishes task events on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *config) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// NewManager creates a task Manager. sessions is usually a *session.Manager.
func NewManager(store record.Store, sessions claim.Sessions, opts ...Option) (*Manager, error) {
	cfg := config{retry: record.DefaultRetryPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	table, err := claim.NewTable(store, event.KindTask, record.ClaimsPrefix, sessions,
		claim.WithRetryPolicy(cfg.retry),
		claim.WithClock(cfg.now),
		claim.WithBus(cfg.bus),
		claim.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger.WithComponent("taskqueue")
	return &Manager{
		table: table,
		backlog: &Backlog{
			store:  store,
			retry:  cfg.retry,
			now:    cfg.now,
			bus:    cfg.bus,
			logger: logger,
		},
		bus:    cfg.bus,
		logger: logger,
	}, nil
}

// Backlog returns the shared task backlog.
func (m *Manager) Backlog() *Backlog {
	return m.backlog
}

// Claim reserves taskID for sessionID unless a live session already holds
// it. The task does not need a backlog entry.
func (m *Manager) Claim(ctx context.Context, taskID, sessionID string) (Outcome, error) {
	return m.table.Acquire(ctx, taskID, sessionID)
}

// Release clears the claim on taskID if sessionID holds it and fails with
// errors.ErrNotHolder otherwise.
func (m *Manager) Release(ctx context.Context, taskID, sessionID string) error {
	return m.table.Release(ctx, taskID, sessionID)
}

// ReleaseAllFor releases every claim held by sessionID. It satisfies
// session.Releaser.
func (m *Manager) ReleaseAllFor(ctx context.Context, sessionID string) (int, error) {
	return m.table.ReleaseAllFor(ctx, sessionID)
}

// ListUnclaimed returns the ids from allTaskIDs that no live session has
// claimed, in input order.
func (m *Manager) ListUnclaimed(ctx context.Context, allTaskIDs []string) ([]string, error) {
	return m.table.Free(ctx, allTaskIDs)
}

// Claims returns every claim record with its holder's liveness.
func (m *Manager) Claims(ctx context.Context) ([]claim.Entry, error) {
	return m.table.List(ctx)
}

// Claimant returns the current claim on taskID.
func (m *Manager) Claimant(ctx context.Context, taskID string) (*claim.Holding, error) {
	return m.table.Holder(ctx, taskID)
}

// Pending returns ready backlog tasks that no live session has claimed, in
// claim order.
func (m *Manager) Pending(ctx context.Context) ([]*Task, error) {
	ready, err := m.backlog.Ready(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	free, err := m.table.Free(ctx, ids)
	if err != nil {
		return nil, err
	}
	isFree := make(map[string]bool, len(free))
	for _, id := range free {
		isFree[id] = true
	}

	var pending []*Task
	for _, t := range ready {
		if isFree[t.ID] {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// ClaimNext claims the first pending backlog task sessionID can get.
// Returns nil with no error if nothing is available.
func (m *Manager) ClaimNext(ctx context.Context, sessionID string) (*Task, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		out, err := m.table.Acquire(ctx, t.ID, sessionID)
		if err != nil {
			return nil, err
		}
		if out.Granted {
			return t, nil
		}
	}
	return nil, nil
}

// Complete marks a backlog task done and releases its claim. The caller
// must hold the claim.
func (m *Manager) Complete(ctx context.Context, taskID, sessionID string) error {
	holding, err := m.table.Holder(ctx, taskID)
	if err != nil {
		return err
	}
	if holding.Holder != sessionID || sessionID == "" {
		return errors.NewOwnershipError(event.KindTask, taskID, sessionID, holding.Holder, errors.ErrNotHolder)
	}
	if err := m.backlog.markCompleted(ctx, taskID, sessionID); err != nil {
		return err
	}
	if err := m.table.ReleaseWithReason(ctx, taskID, sessionID, event.ReasonCompleted); err != nil {
		if !errors.Is(err, errors.ErrNotHolder) {
			return err
		}
		// The claim was reclaimed after the check; the task is done regardless.
		m.logger.Warn("claim lost while completing", "task_id", taskID, "session_id", sessionID)
	}
	m.logger.Info("task completed", "task_id", taskID, "session_id", sessionID)
	m.bus.Publish(event.NewTaskCompletedEvent(taskID, sessionID))
	return nil
}

// Status counts backlog entries by state.
func (m *Manager) Status(ctx context.Context) (BacklogStatus, error) {
	tasks, err := m.backlog.List(ctx)
	if err != nil {
		return BacklogStatus{}, err
	}
	byID := make(map[string]*Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	free, err := m.table.Free(ctx, ids)
	if err != nil {
		return BacklogStatus{}, err
	}
	isFree := make(map[string]bool, len(free))
	for _, id := range free {
		isFree[id] = true
	}

	st := BacklogStatus{Total: len(tasks)}
	for _, t := range tasks {
		switch {
		case t.Status == TaskCompleted:
			st.Completed++
		case !isFree[t.ID]:
			st.Claimed++
		case !isReady(t, byID):
			st.Blocked++
		default:
			st.Pending++
		}
	}
	return st, nil
}
