package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

const (
	// DefaultPollInterval bounds how long a mutation can go unreported when
	// no OS notification arrives.
	DefaultPollInterval = time.Second

	// debounceInterval coalesces bursts of fsnotify events into one rescan.
	debounceInterval = 25 * time.Millisecond
)

// rooted is implemented by stores backed by a directory tree that fsnotify
// can observe.
type rooted interface {
	Root() string
}

// Notifier produces mutation streams over a record store.
type Notifier struct {
	store        record.Store
	pollInterval time.Duration
	useFsnotify  bool
	now          func() time.Time
	logger       *logging.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPollInterval sets how often the store is rescanned regardless of
// notifications.
func WithPollInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.pollInterval = d
		}
	}
}

// WithFsnotify enables or disables OS file notifications. They are only
// used for stores that expose a root directory.
func WithFsnotify(enabled bool) Option {
	return func(n *Notifier) { n.useFsnotify = enabled }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// NewNotifier creates a Notifier over store.
func NewNotifier(store record.Store, opts ...Option) (*Notifier, error) {
	if store == nil {
		return nil, errors.NewValidationError("store", nil, "must not be nil")
	}
	n := &Notifier{
		store:        store,
		pollInterval: DefaultPollInterval,
		useFsnotify:  true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.WithComponent("watch")
	return n, nil
}

// Snapshot returns the current stamp of every key under prefix.
func (n *Notifier) Snapshot(ctx context.Context, prefix string) (Snapshot, error) {
	versions, err := n.store.Versions(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return Snapshot(versions), nil
}

type watchConfig struct {
	baseline Snapshot
	buffer   int
}

// WatchOption configures a single Watch call.
type WatchOption func(*watchConfig)

// WithBaseline reports only changes relative to base instead of treating
// every existing key as created.
func WithBaseline(base Snapshot) WatchOption {
	return func(c *watchConfig) { c.baseline = base.Clone() }
}

// WithBuffer sets the channel capacity. The default is unbuffered.
func WithBuffer(n int) WatchOption {
	return func(c *watchConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Watch streams mutations of keys under prefix until ctx is cancelled, then
// closes the channel. An empty prefix watches the whole store.
//
// Delivery is at-least-once: a consumer that stops reading holds back the
// scan loop rather than losing events, and nothing computed is delivered
// after cancellation.
func (n *Notifier) Watch(ctx context.Context, prefix string, opts ...WatchOption) (<-chan MutationEvent, error) {
	cfg := watchConfig{baseline: Snapshot{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if prefix != "" {
		if err := record.ValidateKey(strings.TrimSuffix(prefix, "/")); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fw *fsnotify.Watcher
	var root string
	if r, ok := n.store.(rooted); ok && n.useFsnotify {
		root = r.Root()
		w, err := newDirWatcher(root, n.logger)
		if err != nil {
			// Polling alone still satisfies delivery; it is only slower.
			n.logger.Warn("fsnotify unavailable, polling only", "error", err)
		} else {
			fw = w
		}
	}

	out := make(chan MutationEvent, cfg.buffer)
	s := &stream{
		notifier: n,
		prefix:   prefix,
		last:     cfg.baseline,
		out:      out,
		fw:       fw,
		root:     root,
	}
	go s.run(ctx)
	return out, nil
}

type stream struct {
	notifier *Notifier
	prefix   string
	last     Snapshot
	out      chan MutationEvent
	fw       *fsnotify.Watcher
	root     string
}

func (s *stream) run(ctx context.Context) {
	defer close(s.out)
	if s.fw != nil {
		defer s.fw.Close()
	}
	logger := s.notifier.logger.With("prefix", s.prefix)

	ticker := time.NewTicker(s.notifier.pollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if s.fw != nil {
		fsEvents = s.fw.Events
		fsErrors = s.fw.Errors
	}

	if !s.scan(ctx, logger) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !s.scan(ctx, logger) {
				return
			}

		case <-debounce.C:
			if !s.scan(ctx, logger) {
				return
			}

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				// New key directories must be watched before their files appear.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					addRecursive(s.fw, ev.Name, logger)
				}
			}
			if s.relevant(ev.Name) {
				debounce.Reset(debounceInterval)
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logger.Warn("fsnotify error", "error", err)
		}
	}
}

// relevant reports whether a changed path may belong to a key under the
// watched prefix. Directories and unknown paths err on the side of a rescan.
func (s *stream) relevant(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	// Lock and temp files; the rename that follows a temp write fires on
	// the record itself.
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if s.prefix == "" {
		return true
	}
	return strings.HasPrefix(rel, s.prefix) || strings.HasPrefix(s.prefix, rel+"/")
}

// scan diffs the store against the last delivered snapshot and sends the
// changes. It returns false once ctx is done.
func (s *stream) scan(ctx context.Context, logger *logging.Logger) bool {
	next, err := s.notifier.Snapshot(ctx, s.prefix)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// The next tick retries; the diff will include whatever was missed.
		logger.Warn("scan failed", "error", err)
		return true
	}

	for _, ev := range Diff(s.last, next, s.notifier.now()) {
		select {
		case s.out <- ev:
		case <-ctx.Done():
			return false
		}
		if cur, ok := next[ev.Key]; ok && ev.Kind != KindDeleted {
			s.last[ev.Key] = cur
		} else {
			delete(s.last, ev.Key)
		}
	}
	return true
}

func newDirWatcher(root string, logger *logging.Logger) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	addRecursive(w, root, logger)
	return w, nil
}

// addRecursive watches every directory beneath dir. fsnotify is not
// recursive on its own.
func addRecursive(w *fsnotify.Watcher, dir string, logger *logging.Logger) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
