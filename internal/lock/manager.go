// Package lock grants advisory, non-blocking mutual-exclusion locks over
// named shared resources. A lock held by a session that is no longer alive
// is abandoned and can be taken over by any other session.
package lock

import (
	"context"
	"time"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

// Outcome is the result of Acquire: granted, or denied naming the holder.
type Outcome = claim.Outcome

// Manager grants and releases named locks.
type Manager struct {
	table    *claim.Table
	manifest *Manifest
}

type config struct {
	manifest *Manifest
	table    []claim.Option
}

// Option configures a Manager.
type Option func(*config)

// WithManifest restricts lock names to the resources it declares.
func WithManifest(m *Manifest) Option {
	return func(c *config) { c.manifest = m }
}

// WithRetryPolicy bounds retries of conflicting conditional writes.
func WithRetryPolicy(p record.RetryPolicy) Option {
	return func(c *config) { c.table = append(c.table, claim.WithRetryPolicy(p)) }
}

// WithBus publishes lock events on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *config) { c.table = append(c.table, claim.WithBus(bus)) }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) { c.table = append(c.table, claim.WithLogger(logger)) }
}

// WithClock replaces time.Now for acquired_at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.table = append(c.table, claim.WithClock(now)) }
}

// NewManager creates a lock Manager. sessions is usually a *session.Manager.
func NewManager(store record.Store, sessions claim.Sessions, opts ...Option) (*Manager, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.manifest != nil {
		cfg.table = append(cfg.table, claim.WithValidator(cfg.manifest.Validate))
	}
	table, err := claim.NewTable(store, event.KindLock, record.LocksPrefix, sessions, cfg.table...)
	if err != nil {
		return nil, err
	}
	return &Manager{table: table, manifest: cfg.manifest}, nil
}

// Acquire grants lockName to sessionID if it is unheld or its holder is no
// longer alive. A live holder yields a denied Outcome naming it. Acquire
// never waits; retrying a denial is the caller's choice.
func (m *Manager) Acquire(ctx context.Context, lockName, sessionID string) (Outcome, error) {
	return m.table.Acquire(ctx, lockName, sessionID)
}

// Release clears lockName if sessionID holds it and fails with
// errors.ErrNotHolder otherwise.
func (m *Manager) Release(ctx context.Context, lockName, sessionID string) error {
	return m.table.Release(ctx, lockName, sessionID)
}

// ReleaseAllFor releases every lock held by sessionID. It satisfies
// session.Releaser.
func (m *Manager) ReleaseAllFor(ctx context.Context, sessionID string) (int, error) {
	return m.table.ReleaseAllFor(ctx, sessionID)
}

// Holder returns the current holding of lockName.
func (m *Manager) Holder(ctx context.Context, lockName string) (*claim.Holding, error) {
	return m.table.Holder(ctx, lockName)
}

// List returns every lock record with its holder's liveness.
func (m *Manager) List(ctx context.Context) ([]claim.Entry, error) {
	return m.table.List(ctx)
}

// Manifest returns the manifest in force, or nil.
func (m *Manager) Manifest() *Manifest {
	return m.manifest
}
