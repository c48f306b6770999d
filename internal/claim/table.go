package claim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

// Sessions is the view of the session manager a Table needs to decide
// abandonment.
type Sessions interface {
	// IsAlive reports whether the session may keep what it holds.
	IsAlive(ctx context.Context, sessionID string) (bool, error)
	// EnsureActive fails with errors.ErrSessionTerminated or
	// errors.ErrSessionNotFound when sessionID may not acquire anything.
	EnsureActive(ctx context.Context, sessionID string) error
}

// Holding is the persisted ownership record.
type Holding struct {
	Name       string     `json:"name"`
	Holder     string     `json:"holder_session_id,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Held reports whether any session holds the record.
func (h *Holding) Held() bool {
	return h != nil && h.Holder != ""
}

// Outcome is the result of a non-blocking acquire. A denial is a normal
// steady-state result, not an error.
type Outcome struct {
	Granted bool
	// Holder is the session holding the name after the call: the caller
	// when granted, the live owner when denied.
	Holder string
	// PreviousHolder is set when the grant took over an abandoned record.
	PreviousHolder string
}

// Reclaimed reports whether the grant displaced an abandoned holder.
func (o Outcome) Reclaimed() bool {
	return o.Granted && o.PreviousHolder != ""
}

func (o Outcome) String() string {
	if o.Granted {
		return "granted"
	}
	return fmt.Sprintf("denied(%s)", o.Holder)
}

// Granted returns a granted Outcome for sessionID.
func Granted(sessionID string) Outcome {
	return Outcome{Granted: true, Holder: sessionID}
}

// Denied returns a denied Outcome naming holder.
func Denied(holder string) Outcome {
	return Outcome{Holder: holder}
}

// Entry is a Holding annotated with its record version and the holder's
// liveness at the time it was listed.
type Entry struct {
	Holding
	Version int64 `json:"version"`
	Alive   bool  `json:"alive"`
}

// Table manages ownership records of one kind under one key prefix.
type Table struct {
	store    record.Store
	kind     string
	prefix   string
	sessions Sessions
	retry    record.RetryPolicy
	now      func() time.Time
	validate func(name string) error
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithRetryPolicy bounds retries of conflicting conditional writes.
func WithRetryPolicy(p record.RetryPolicy) Option {
	return func(t *Table) { t.retry = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		if now != nil {
			t.now = now
		}
	}
}

// WithValidator rejects names before any record is touched.
func WithValidator(fn func(name string) error) Option {
	return func(t *Table) { t.validate = fn }
}

// WithBus publishes ownership events on bus.
func WithBus(bus *event.Bus) Option {
	return func(t *Table) { t.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Table) { t.logger = logger }
}

// NewTable creates a Table storing records of kind (event.KindLock or
// event.KindTask) under prefix.
func NewTable(store record.Store, kind, prefix string, sessions Sessions, opts ...Option) (*Table, error) {
	if store == nil {
		return nil, errors.NewValidationError("store", nil, "is required")
	}
	if sessions == nil {
		return nil, errors.NewValidationError("sessions", nil, "is required")
	}
	if !strings.HasSuffix(prefix, "/") {
		return nil, errors.NewValidationError("prefix", prefix, "must end with /")
	}
	t := &Table{
		store:    store,
		kind:     kind,
		prefix:   prefix,
		sessions: sessions,
		retry:    record.DefaultRetryPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent(kind)
	return t, nil
}

// Kind returns the record kind this table manages.
func (t *Table) Kind() string {
	return t.kind
}

// Key returns the record store key for name.
func (t *Table) Key(name string) string {
	return t.prefix + name
}

// Acquire grants name to sessionID unless a live session holds it. It never
// blocks waiting for the holder; conflicting writes from concurrent
// acquirers are retried within the table's retry policy, after which
// errors.ErrStoreUnavailable is returned.
func (t *Table) Acquire(ctx context.Context, name, sessionID string) (Outcome, error) {
	if err := t.checkName(name); err != nil {
		return Outcome{}, err
	}
	if err := t.sessions.EnsureActive(ctx, sessionID); err != nil {
		return Outcome{}, err
	}

	key := t.Key(name)
	var out Outcome
	err := t.retry.Do(ctx, "acquire", key, func() error {
		current, version, err := t.load(ctx, name)
		if err != nil {
			return err
		}

		var previous string
		switch {
		case !current.Held():
		case current.Holder == sessionID:
			out = Granted(sessionID)
			return nil
		default:
			alive, err := t.sessions.IsAlive(ctx, current.Holder)
			if err != nil {
				return err
			}
			if alive {
				out = Denied(current.Holder)
				return nil
			}
			previous = current.Holder
		}

		now := t.now().UTC()
		next := Holding{Name: name, Holder: sessionID, AcquiredAt: &now}
		if err := t.write(ctx, key, &next, version); err != nil {
			return err
		}
		out = Outcome{Granted: true, Holder: sessionID, PreviousHolder: previous}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Granted {
		if err := t.confirmActive(ctx, name, sessionID); err != nil {
			return Outcome{}, err
		}
	}

	switch {
	case !out.Granted:
		t.logger.Debug("acquire denied", t.kind, name, "session_id", sessionID, "holder", out.Holder)
		t.bus.Publish(event.NewDeniedEvent(t.kind, name, sessionID, out.Holder))
	case out.Reclaimed():
		t.logger.Warn("abandoned record reclaimed", t.kind, name, "session_id", sessionID, "previous_holder", out.PreviousHolder)
		t.bus.Publish(event.NewReclaimedEvent(t.kind, name, sessionID, out.PreviousHolder))
		t.bus.Publish(event.NewGrantedEvent(t.kind, name, sessionID))
	default:
		t.logger.Info("acquire granted", t.kind, name, "session_id", sessionID)
		t.bus.Publish(event.NewGrantedEvent(t.kind, name, sessionID))
	}
	return out, nil
}

// confirmActive re-checks the requester after a grant. Terminate writes the
// terminated status before its cascade scans, so a grant that lands after
// the scan is always seen here and withdrawn.
func (t *Table) confirmActive(ctx context.Context, name, sessionID string) error {
	err := t.sessions.EnsureActive(ctx, sessionID)
	if err == nil {
		return nil
	}
	if rerr := t.release(ctx, name, sessionID, event.ReasonCascade); rerr != nil && !errors.Is(rerr, errors.ErrNotHolder) {
		return errors.Join(err, rerr)
	}
	t.logger.Warn("grant withdrawn from terminated session", t.kind, name, "session_id", sessionID)
	return err
}

// Release clears name if sessionID holds it. Any other state is reported as
// errors.ErrNotHolder and left unchanged.
func (t *Table) Release(ctx context.Context, name, sessionID string) error {
	return t.ReleaseWithReason(ctx, name, sessionID, event.ReasonReleased)
}

// ReleaseWithReason is Release with the reason recorded on the published
// event.
func (t *Table) ReleaseWithReason(ctx context.Context, name, sessionID, reason string) error {
	if err := t.checkName(name); err != nil {
		return err
	}
	return t.release(ctx, name, sessionID, reason)
}

// release skips name validation so records created under an older manifest
// can still be cleared.
func (t *Table) release(ctx context.Context, name, sessionID, reason string) error {
	key := t.Key(name)
	err := t.retry.Do(ctx, "release", key, func() error {
		current, version, err := t.load(ctx, name)
		if err != nil {
			return err
		}
		if current.Holder != sessionID || sessionID == "" {
			return errors.NewOwnershipError(t.kind, name, sessionID, current.Holder, errors.ErrNotHolder)
		}
		return t.write(ctx, key, t.tombstone(name), version)
	})
	if err != nil {
		return err
	}
	t.logger.Info("released", t.kind, name, "session_id", sessionID, "reason", reason)
	t.bus.Publish(event.NewReleasedEvent(t.kind, name, sessionID, reason))
	return nil
}

// ReleaseAllFor clears every record held by sessionID and returns how many
// were released. It is idempotent and safe to run from several processes at
// once: a record that changes hands while being scanned is left to its new
// holder.
func (t *Table) ReleaseAllFor(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, errors.NewValidationError("session id", sessionID, "must not be empty")
	}
	keys, err := t.store.List(ctx, t.prefix)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, key := range keys {
		name := strings.TrimPrefix(key, t.prefix)
		err := t.release(ctx, name, sessionID, event.ReasonCascade)
		switch {
		case err == nil:
			released++
		case errors.Is(err, errors.ErrNotHolder):
		default:
			errs = append(errs, err)
		}
	}
	if released > 0 {
		t.logger.Info("released all", "session_id", sessionID, "count", released)
	}
	return released, errors.Join(errs...)
}

// Holder returns the holding for name. A never-acquired name yields an
// empty Holding, not an error.
func (t *Table) Holder(ctx context.Context, name string) (*Holding, error) {
	if err := t.checkName(name); err != nil {
		return nil, err
	}
	h, _, err := t.load(ctx, name)
	return h, err
}

// List returns every record in the table, including released ones, sorted
// by name.
func (t *Table) List(ctx context.Context) ([]Entry, error) {
	keys, err := t.store.List(ctx, t.prefix)
	if err != nil {
		return nil, err
	}
	alive := t.aliveCache(ctx)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, t.prefix)
		h, version, err := t.load(ctx, name)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			continue // deleted since List
		}
		e := Entry{Holding: *h, Version: version}
		if h.Held() {
			if e.Alive, err = alive(h.Holder); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Free returns the subset of names that no live session holds, in input
// order.
func (t *Table) Free(ctx context.Context, names []string) ([]string, error) {
	alive := t.aliveCache(ctx)
	var free []string
	for _, name := range names {
		h, err := t.Holder(ctx, name)
		if err != nil {
			return nil, err
		}
		if h.Held() {
			ok, err := alive(h.Holder)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
		}
		free = append(free, name)
	}
	return free, nil
}

// aliveCache memoizes IsAlive for the duration of one listing.
func (t *Table) aliveCache(ctx context.Context) func(string) (bool, error) {
	seen := make(map[string]bool)
	return func(id string) (bool, error) {
		if v, ok := seen[id]; ok {
			return v, nil
		}
		v, err := t.sessions.IsAlive(ctx, id)
		if err != nil {
			return false, err
		}
		seen[id] = v
		return v, nil
	}
}

func (t *Table) checkName(name string) error {
	if name == "" {
		return errors.NewValidationError(t.kind+" name", name, "must not be empty")
	}
	if err := record.ValidateKey(t.Key(name)); err != nil {
		return err
	}
	if t.validate != nil {
		return t.validate(name)
	}
	return nil
}

// load returns the holding for name and its version. A missing record is an
// empty holding at version 0, which is exactly what CompareAndSwap expects
// for "must not exist".
func (t *Table) load(ctx context.Context, name string) (*Holding, int64, error) {
	rec, err := t.store.Get(ctx, t.Key(name))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return &Holding{Name: name}, 0, nil
		}
		return nil, 0, err
	}
	var h Holding
	if err := rec.Decode(&h); err != nil {
		return nil, 0, err
	}
	return &h, rec.Version, nil
}

func (t *Table) write(ctx context.Context, key string, h *Holding, version int64) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", t.kind, err)
	}
	_, err = t.store.CompareAndSwap(ctx, key, data, version)
	return err
}

func (t *Table) tombstone(name string) *Holding {
	now := t.now().UTC()
	return &Holding{Name: name, ReleasedAt: &now}
}
