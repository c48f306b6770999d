package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/liveness"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Defaults applied by NewManager.
const (
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultStalenessThreshold = 3 * DefaultHeartbeatInterval
)

// Session is the persisted record of one coordinating process.
type Session struct {
	ID              string     `json:"session_id"`
	Status          Status     `json:"status"`
	OwnerPID        int        `json:"owner_pid"`
	Hostname        string     `json:"hostname,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	TerminatedAt    *time.Time `json:"terminated_at,omitempty"`
}

// Key returns the record store key for a session id.
func Key(id string) string {
	return record.SessionsPrefix + id
}

// Releaser drops every lock or claim a session holds. Implementations must
// be idempotent: Terminate may invoke them more than once for a session.
type Releaser interface {
	ReleaseAllFor(ctx context.Context, sessionID string) (int, error)
}

// ReleaserFunc adapts a function to the Releaser interface.
type ReleaserFunc func(ctx context.Context, sessionID string) (int, error)

// ReleaseAllFor calls f.
func (f ReleaserFunc) ReleaseAllFor(ctx context.Context, sessionID string) (int, error) {
	return f(ctx, sessionID)
}

// Manager creates, renews and terminates session records.
// It is safe for concurrent use.
type Manager struct {
	store     record.Store
	prober    liveness.Prober
	staleness time.Duration
	retry     record.RetryPolicy
	now       func() time.Time
	pid       int
	hostname  string
	bus       *event.Bus
	logger    *logging.Logger

	mu        sync.RWMutex
	releasers []Releaser
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber sets the process liveness probe. Defaults to liveness.NoopProber.
func WithProber(p liveness.Prober) Option {
	return func(m *Manager) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithStalenessThreshold sets how old a heartbeat may get before the session
// is considered abandoned.
func WithStalenessThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleness = d
		}
	}
}

// WithRetryPolicy bounds retries of conflicting conditional writes.
func WithRetryPolicy(p record.RetryPolicy) Option {
	return func(m *Manager) {
		m.retry = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithProcess overrides the pid and hostname recorded by Start.
func WithProcess(pid int, hostname string) Option {
	return func(m *Manager) {
		m.pid = pid
		m.hostname = hostname
	}
}

// WithBus publishes session lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.WithComponent("session")
	}
}

// NewManager creates a Manager over store.
func NewManager(store record.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.NewValidationError("store", nil, "is required")
	}
	m := &Manager{
		store:     store,
		prober:    liveness.NoopProber{},
		staleness: DefaultStalenessThreshold,
		retry:     record.DefaultRetryPolicy(),
		now:       time.Now,
		pid:       os.Getpid(),
		hostname:  liveness.Hostname(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StalenessThreshold returns the configured heartbeat-age limit.
func (m *Manager) StalenessThreshold() time.Duration {
	return m.staleness
}

// RegisterReleaser adds r to the termination cascade.
func (m *Manager) RegisterReleaser(r Releaser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releasers = append(m.releasers, r)
}

// Start registers a new active session owned by this process and returns
// its id. A store that cannot be written yields errors.ErrStoreUnavailable.
func (m *Manager) Start(ctx context.Context) (string, error) {
	now := m.now().UTC()
	s := &Session{
		ID:              uuid.NewString(),
		Status:          StatusActive,
		OwnerPID:        m.pid,
		Hostname:        m.hostname,
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := m.store.CompareAndSwap(ctx, Key(s.ID), data, 0); err != nil {
		if !errors.Is(err, errors.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err)
		}
		m.logger.Error("failed to start session", "error", err)
		return "", errors.NewSessionError("start failed", err).WithSessionID(s.ID)
	}

	m.logger.Info("session started", "session_id", s.ID, "pid", s.OwnerPID, "hostname", s.Hostname)
	m.bus.Publish(event.NewSessionStartedEvent(s.ID, s.OwnerPID, s.Hostname))
	return s.ID, nil
}

// Heartbeat records that the session is still running. It fails with
// errors.ErrSessionTerminated once the session has been terminated, by
// this process or any other. The stored heartbeat never moves backwards.
func (m *Manager) Heartbeat(ctx context.Context, id string) error {
	err := m.retry.Do(ctx, "heartbeat", Key(id), func() error {
		s, version, err := m.load(ctx, id)
		if err != nil {
			return err
		}
		if s.Status == StatusTerminated {
			return errors.NewSessionError("heartbeat rejected", errors.ErrSessionTerminated).WithSessionID(id)
		}
		if now := m.now().UTC(); now.After(s.LastHeartbeatAt) {
			s.LastHeartbeatAt = now
		}
		return m.save(ctx, s, version)
	})
	if err != nil {
		return err
	}
	m.bus.Publish(event.NewSessionHeartbeatEvent(id))
	return nil
}

// Terminate marks the session terminated and releases everything it holds.
// It is idempotent: terminating a terminated session only re-runs the
// (idempotent) cascade, so a cascade interrupted by a crash is completed by
// the next caller.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	_, err := m.terminate(ctx, id, event.ReasonGraceful, false)
	return err
}

// terminate reports whether this call wrote the terminated status. With
// onlyIfDead set, liveness is re-checked against every version read, and a
// session found alive is left untouched: the status write is conditional
// on the version that was judged dead, so a heartbeat landing in between
// wins.
func (m *Manager) terminate(ctx context.Context, id, reason string, onlyIfDead bool) (bool, error) {
	wrote, spared := false, false
	err := m.retry.Do(ctx, "terminate", Key(id), func() error {
		s, version, err := m.load(ctx, id)
		if err != nil {
			return err
		}
		if s.Status == StatusTerminated {
			return nil
		}
		if onlyIfDead && m.Alive(s) {
			spared = true
			return nil
		}
		now := m.now().UTC()
		s.Status = StatusTerminated
		s.TerminatedAt = &now
		if err := m.save(ctx, s, version); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if spared {
		m.logger.Debug("session revived before reaping", "session_id", id)
		return false, nil
	}

	released, cascadeErr := m.cascade(ctx, id)
	if wrote {
		m.logger.Info("session terminated", "session_id", id, "reason", reason, "released", released)
		m.bus.Publish(event.NewSessionTerminatedEvent(id, reason, released))
	}
	if cascadeErr != nil {
		m.logger.Error("termination cascade incomplete", "session_id", id, "error", cascadeErr)
		return wrote, errors.NewSessionError("release cascade failed", cascadeErr).WithSessionID(id)
	}
	return wrote, nil
}

func (m *Manager) cascade(ctx context.Context, id string) (int, error) {
	m.mu.RLock()
	releasers := append([]Releaser(nil), m.releasers...)
	m.mu.RUnlock()

	var (
		total int
		errs  []error
	)
	for _, r := range releasers {
		n, err := r.ReleaseAllFor(ctx, id)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// IsAlive reports whether the session is active, has a fresh heartbeat and
// is not known to have lost its process. Unknown sessions are not alive.
func (m *Manager) IsAlive(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Alive(s), nil
}

// EnsureActive fails with errors.ErrSessionTerminated once the session has
// been terminated and errors.ErrSessionNotFound if it never existed. A
// stale but unterminated session passes: its process is evidently running.
func (m *Manager) EnsureActive(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == StatusTerminated {
		return errors.NewSessionError("session may not acquire", errors.ErrSessionTerminated).WithSessionID(id)
	}
	return nil
}

// Alive evaluates liveness for an already loaded session. When the probe
// has no answer, heartbeat age alone decides.
func (m *Manager) Alive(s *Session) bool {
	if s == nil || s.Status != StatusActive {
		return false
	}
	if m.now().Sub(s.LastHeartbeatAt) >= m.staleness {
		return false
	}
	return m.prober.Probe(s.OwnerPID, s.Hostname) != liveness.Dead
}

// Get returns the session record for id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, _, err := m.load(ctx, id)
	return s, err
}

// List returns every session record, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	keys, err := m.store.List(ctx, record.SessionsPrefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		s, err := m.Get(ctx, strings.TrimPrefix(key, record.SessionsPrefix))
		if err != nil {
			if errors.Is(err, errors.ErrSessionNotFound) {
				continue // pruned since List
			}
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Prune deletes terminated session records whose termination is older than
// olderThan and returns how many were removed. Records modified since they
// were read are skipped.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	keys, err := m.store.List(ctx, record.SessionsPrefix)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-olderThan)

	pruned := 0
	for _, key := range keys {
		s, version, err := m.load(ctx, strings.TrimPrefix(key, record.SessionsPrefix))
		if err != nil {
			if errors.Is(err, errors.ErrSessionNotFound) {
				continue
			}
			return pruned, err
		}
		if s.Status != StatusTerminated || s.TerminatedAt == nil || s.TerminatedAt.After(cutoff) {
			continue
		}
		if err := m.store.CompareAndDelete(ctx, key, version); err != nil {
			if errors.Is(err, errors.ErrConflict) || errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		m.logger.Info("pruned terminated sessions", "count", pruned)
	}
	return pruned, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, int64, error) {
	if id == "" {
		return nil, 0, errors.NewValidationError("session id", id, "must not be empty")
	}
	rec, err := m.store.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, 0, errors.NewSessionError("no such session", errors.ErrSessionNotFound).WithSessionID(id)
		}
		return nil, 0, err
	}
	var s Session
	if err := rec.Decode(&s); err != nil {
		return nil, 0, err
	}
	return &s, rec.Version, nil
}

func (m *Manager) save(ctx context.Context, s *Session, version int64) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = m.store.CompareAndSwap(ctx, Key(s.ID), data, version)
	return err
}
