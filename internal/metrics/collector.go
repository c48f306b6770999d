// Package metrics exports coordination activity as Prometheus metrics.
//
// A [Collector] subscribes to the in-process event bus, so it only counts
// what this process did. Cluster-wide views come from the record store
// through gauge callbacks such as [Collector.SetSessionSource].
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/roster/internal/event"
)

const namespace = "roster"

// SessionCounter reports the number of live sessions in the store.
type SessionCounter func(ctx context.Context) (int, error)

// Collector holds the roster metrics and their registry.
type Collector struct {
	registry *prometheus.Registry

	SessionsStarted    prometheus.Counter
	SessionsTerminated *prometheus.CounterVec
	Heartbeats         prometheus.Counter
	Acquisitions       *prometheus.CounterVec
	Releases           *prometheus.CounterVec
	Reclaims           *prometheus.CounterVec
	TasksAdded         prometheus.Counter
	TasksCompleted     prometheus.Counter

	mu       sync.Mutex
	sessions SessionCounter
	subID    string
	bus      *event.Bus
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		SessionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Sessions registered by this process",
			},
		),
		SessionsTerminated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_terminated_total",
				Help:      "Sessions terminated by this process",
			},
			[]string{"reason"},
		),
		Heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Heartbeats recorded by this process",
			},
		),
		Acquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisitions_total",
				Help:      "Lock acquire and task claim attempts by outcome",
			},
			[]string{"kind", "outcome"},
		),
		Releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Locks and claims released",
			},
			[]string{"kind", "reason"},
		),
		Reclaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reclaims_total",
				Help:      "Records taken over from dead or stale holders",
			},
			[]string{"kind"},
		),
		TasksAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_added_total",
				Help:      "Tasks appended to the backlog",
			},
		),
		TasksCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Backlog tasks completed",
			},
		),
	}

	c.registry.MustRegister(
		c.SessionsStarted,
		c.SessionsTerminated,
		c.Heartbeats,
		c.Acquisitions,
		c.Releases,
		c.Reclaims,
		c.TasksAdded,
		c.TasksCompleted,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_alive",
				Help:      "Live sessions in the record store",
			},
			c.aliveSessions,
		),
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetSessionSource sets the callback behind the sessions_alive gauge.
func (c *Collector) SetSessionSource(fn SessionCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = fn
}

func (c *Collector) aliveSessions() float64 {
	c.mu.Lock()
	fn := c.sessions
	c.mu.Unlock()
	if fn == nil {
		return 0
	}
	n, err := fn(context.Background())
	if err != nil {
		return 0
	}
	return float64(n)
}

// Attach subscribes the collector to bus. Calling it again moves the
// subscription.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
	c.subID = bus.SubscribeAll(c.Observe)
}

// Detach removes the bus subscription, if any.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		c.bus.Unsubscribe(c.subID)
		c.bus = nil
		c.subID = ""
	}
}

// Observe records one event.
func (c *Collector) Observe(e event.Event) {
	switch ev := e.(type) {
	case event.SessionStartedEvent:
		c.SessionsStarted.Inc()
	case event.SessionHeartbeatEvent:
		c.Heartbeats.Inc()
	case event.SessionTerminatedEvent:
		c.SessionsTerminated.WithLabelValues(ev.Reason).Inc()
	case event.GrantedEvent:
		c.Acquisitions.WithLabelValues(ev.Kind, "granted").Inc()
	case event.DeniedEvent:
		c.Acquisitions.WithLabelValues(ev.Kind, "denied").Inc()
	case event.ReleasedEvent:
		c.Releases.WithLabelValues(ev.Kind, ev.Reason).Inc()
	case event.ReclaimedEvent:
		c.Reclaims.WithLabelValues(ev.Kind).Inc()
	case event.TaskAddedEvent:
		c.TasksAdded.Inc()
	case event.TaskCompletedEvent:
		c.TasksCompleted.Inc()
	}
}
