package coordination

import (
	"time"

	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/liveness"
	"github.com/Iron-Ham/roster/internal/record"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	store    record.Store
	prober   liveness.Prober
	bus      *event.Bus
	now      func() time.Time
	pid      int
	hostname string
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithStore uses store instead of opening the configured backend. The hub
// still closes it.
func WithStore(store record.Store) Option {
	return func(c *hubConfig) { c.store = store }
}

// WithProber overrides the liveness probe chosen from session.probe_processes.
func WithProber(p liveness.Prober) Option {
	return func(c *hubConfig) { c.prober = p }
}

// WithBus shares an existing event bus instead of creating one.
func WithBus(bus *event.Bus) Option {
	return func(c *hubConfig) { c.bus = bus }
}

// WithClock replaces time.Now in every manager.
func WithClock(now func() time.Time) Option {
	return func(c *hubConfig) { c.now = now }
}

// WithProcess records pid on hostname as the owner of sessions the hub
// starts. A CLI invocation passes its parent shell so the session outlives
// the command.
func WithProcess(pid int, hostname string) Option {
	return func(c *hubConfig) {
		c.pid = pid
		c.hostname = hostname
	}
}
