package coordination

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Iron-Ham/roster/internal/config"
	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/liveness"
	"github.com/Iron-Ham/roster/internal/lock"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/metrics"
	"github.com/Iron-Ham/roster/internal/record"
	"github.com/Iron-Ham/roster/internal/session"
	"github.com/Iron-Ham/roster/internal/taskqueue"
	"github.com/Iron-Ham/roster/internal/watch"
)

// Config holds required dependencies for creating a Hub.
type Config struct {
	// Settings is the loaded configuration. Nil uses config.Default().
	Settings *config.Config
	// BaseDir resolves relative store and manifest paths. Empty uses the
	// working directory.
	BaseDir string
	Logger  *logging.Logger
}

// Hub owns the store and every manager built on it for one process.
type Hub struct {
	settings *config.Config
	logger   *logging.Logger

	store     record.Store
	bus       *event.Bus
	sessions  *session.Manager
	locks     *lock.Manager
	tasks     *taskqueue.Manager
	notifier  *watch.Notifier
	collector *metrics.Collector
	reaper    *session.Reaper

	// ctx is cancelled by Close and bounds every stream and heartbeat the
	// hub hands out.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	started    bool
	closed     bool
	cron       *cron.Cron
	server     *metrics.Server
	heartbeats map[string]*session.Heartbeater
}

// NewHub opens the configured store and wires the managers together.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	var hc hubConfig
	for _, opt := range opts {
		opt(&hc)
	}

	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if errs := settings.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "resolve working directory")
		}
		baseDir = wd
	}
	logger := cfg.Logger.WithComponent("hub")

	store := hc.store
	if store == nil {
		var err error
		store, err = record.Open(record.Options{
			Backend:    settings.Store.Backend,
			Dir:        settings.Store.ResolveStoreDir(baseDir),
			SQLitePath: settings.Store.ResolveSQLitePath(baseDir),
		})
		if err != nil {
			return nil, err
		}
	}

	hub, err := build(settings, baseDir, store, hc, cfg.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("hub ready", "backend", settings.Store.Backend)
	return hub, nil
}

func build(settings *config.Config, baseDir string, store record.Store, hc hubConfig, logger *logging.Logger) (*Hub, error) {
	now := hc.now
	if now == nil {
		now = time.Now
	}
	prober := hc.prober
	if prober == nil {
		if settings.Session.ProbeProcesses {
			prober = liveness.NewProcessProber()
		} else {
			prober = liveness.NoopProber{}
		}
	}
	bus := hc.bus
	if bus == nil {
		bus = event.NewBus(logger)
	}
	retry := record.RetryPolicy{
		MaxAttempts: settings.Lock.MaxAttempts,
		Backoff:     settings.Lock.RetryBackoff,
	}

	sessionOpts := []session.Option{
		session.WithProber(prober),
		session.WithStalenessThreshold(settings.Session.StalenessThreshold),
		session.WithRetryPolicy(retry),
		session.WithClock(now),
		session.WithBus(bus),
		session.WithLogger(logger),
	}
	if hc.pid > 0 {
		host := hc.hostname
		if host == "" {
			host = liveness.Hostname()
		}
		sessionOpts = append(sessionOpts, session.WithProcess(hc.pid, host))
	}
	sessions, err := session.NewManager(store, sessionOpts...)
	if err != nil {
		return nil, err
	}

	lockOpts := []lock.Option{
		lock.WithRetryPolicy(retry),
		lock.WithClock(now),
		lock.WithBus(bus),
		lock.WithLogger(logger),
	}
	if path := settings.Lock.ResolveManifest(baseDir); path != "" {
		manifest, err := lock.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		lockOpts = append(lockOpts, lock.WithManifest(manifest))
	}
	locks, err := lock.NewManager(store, sessions, lockOpts...)
	if err != nil {
		return nil, err
	}

	tasks, err := taskqueue.NewManager(store, sessions,
		taskqueue.WithRetryPolicy(retry),
		taskqueue.WithClock(now),
		taskqueue.WithBus(bus),
		taskqueue.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	sessions.RegisterReleaser(locks)
	sessions.RegisterReleaser(tasks)

	notifier, err := watch.NewNotifier(store,
		watch.WithPollInterval(settings.Watch.PollInterval),
		watch.WithFsnotify(settings.Watch.UseFsnotify),
		watch.WithClock(now),
		watch.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	collector.Attach(bus)
	collector.SetSessionSource(func(ctx context.Context) (int, error) {
		return countAlive(ctx, sessions)
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		settings:   settings,
		logger:     logger.WithComponent("hub"),
		store:      store,
		bus:        bus,
		sessions:   sessions,
		locks:      locks,
		tasks:      tasks,
		notifier:   notifier,
		collector:  collector,
		reaper:     session.NewReaper(sessions, settings.Reaper.Concurrency),
		ctx:        ctx,
		cancel:     cancel,
		heartbeats: make(map[string]*session.Heartbeater),
	}, nil
}

func countAlive(ctx context.Context, sessions *session.Manager) (int, error) {
	all, err := sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range all {
		if sessions.Alive(s) {
			n++
		}
	}
	return n, nil
}

// Settings returns the configuration the hub was built from.
func (h *Hub) Settings() *config.Config { return h.settings }

// Store returns the shared record store.
func (h *Hub) Store() record.Store { return h.store }

// Bus returns the process-local event bus.
func (h *Hub) Bus() *event.Bus { return h.bus }

// Sessions returns the session manager.
func (h *Hub) Sessions() *session.Manager { return h.sessions }

// Locks returns the lock manager.
func (h *Hub) Locks() *lock.Manager { return h.locks }

// Tasks returns the task claim manager.
func (h *Hub) Tasks() *taskqueue.Manager { return h.tasks }

// Notifier returns the change notifier.
func (h *Hub) Notifier() *watch.Notifier { return h.notifier }

// Metrics returns the metrics collector.
func (h *Hub) Metrics() *metrics.Collector { return h.collector }

// StartSession registers a session owned by this process and keeps it
// alive with a heartbeat until EndSession or Close.
func (h *Hub) StartSession(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", errors.New("coordination: hub closed")
	}

	id, err := h.sessions.Start(ctx)
	if err != nil {
		return "", err
	}
	h.heartbeats[id] = h.sessions.StartHeartbeat(h.ctx, id, h.settings.Session.HeartbeatInterval)
	return id, nil
}

// EndSession stops the heartbeat of a session started by StartSession and
// terminates it, releasing its locks and claims.
func (h *Hub) EndSession(ctx context.Context, id string) error {
	h.mu.Lock()
	hb := h.heartbeats[id]
	delete(h.heartbeats, id)
	h.mu.Unlock()

	if hb != nil {
		_ = hb.Stop()
	}
	return h.sessions.Terminate(ctx, id)
}

// Watch streams store mutations under prefix until ctx is cancelled or the
// hub is closed.
func (h *Hub) Watch(ctx context.Context, prefix string, opts ...watch.WatchOption) (<-chan watch.MutationEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)
	ch, err := h.notifier.Watch(ctx, prefix, opts...)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, nil
}

// Reap terminates dead sessions once and, when reaper.prune_after is set,
// deletes old terminated records.
func (h *Hub) Reap(ctx context.Context) ([]string, error) {
	reaped, err := h.reaper.Sweep(ctx)
	if len(reaped) > 0 {
		h.logger.Info("reaped sessions", "count", len(reaped))
	}
	if after := h.settings.Reaper.PruneAfter; after > 0 {
		pruned, perr := h.sessions.Prune(ctx, after)
		if pruned > 0 {
			h.logger.Info("pruned session records", "count", pruned)
		}
		err = errors.Join(err, perr)
	}
	return reaped, err
}

// Start schedules the reaper and, when metrics.addr is set, serves
// metrics. Returns an error if the hub is already started.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.New("coordination: hub closed")
	}
	if h.started {
		return errors.New("coordination: hub already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(h.settings.Reaper.Schedule, func() {
		if _, err := h.Reap(h.ctx); err != nil && h.ctx.Err() == nil {
			h.logger.Warn("reap failed", "error", err)
		}
	}); err != nil {
		return errors.Wrap(err, "schedule reaper")
	}

	if addr := h.settings.Metrics.Addr; addr != "" {
		srv := metrics.NewServer(h.collector, h.healthCheck, h.logger)
		if err := srv.Start(addr); err != nil {
			return errors.Wrap(err, "start metrics server")
		}
		h.server = srv
	}

	c.Start()
	h.cron = c
	h.started = true
	return nil
}

// MetricsAddr returns the metrics listen address, or "" when not serving.
func (h *Hub) MetricsAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return ""
	}
	return h.server.Addr()
}

func (h *Hub) healthCheck(ctx context.Context) error {
	_, err := h.store.List(ctx, record.SessionsPrefix)
	return err
}

// Stop halts the reaper and metrics server. It is idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked()
}

func (h *Hub) stopLocked() error {
	if !h.started {
		return nil
	}
	// Wait for a running sweep to finish before the store goes away.
	<-h.cron.Stop().Done()
	h.cron = nil

	var err error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = h.server.Shutdown(ctx)
		cancel()
		h.server = nil
	}
	h.started = false
	return err
}

// Running returns whether the reaper is currently scheduled.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Close terminates sessions started through the hub, stops every
// background goroutine and closes the store. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	owned := h.heartbeats
	h.heartbeats = nil
	errs := []error{h.stopLocked()}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for id, hb := range owned {
		_ = hb.Stop()
		if err := h.sessions.Terminate(ctx, id); err != nil {
			errs = append(errs, errors.Wrapf(err, "terminate %s", id))
		}
	}

	h.cancel()
	h.collector.Detach()
	errs = append(errs, h.store.Close())
	return errors.Join(errs...)
}
