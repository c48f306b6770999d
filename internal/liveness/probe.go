// Package liveness answers "does the process that owns a session still
// exist?". Probing is best effort: callers must treat Unknown as "no
// evidence either way" and fall back to heartbeat age.
package liveness

import (
	"os"
	"sync"
)

// Result is the outcome of a process probe.
type Result int

const (
	// Unknown means the probe could not decide, for example because the
	// process lives on another host or the platform has no probe.
	Unknown Result = iota
	// Alive means the process exists.
	Alive
	// Dead means the process definitely does not exist.
	Dead
)

func (r Result) String() string {
	switch r {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Prober checks whether a process is still running.
type Prober interface {
	Probe(pid int, host string) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(pid int, host string) Result

// Probe calls f.
func (f ProberFunc) Probe(pid int, host string) Result {
	return f(pid, host)
}

// NoopProber never has an opinion. Liveness then rests on heartbeat age alone.
type NoopProber struct{}

// Probe always returns Unknown.
func (NoopProber) Probe(int, string) Result {
	return Unknown
}

// ProcessProber probes processes on the local host with signal 0.
type ProcessProber struct {
	// Hostname identifies the local host. Records written elsewhere are
	// reported as Unknown because their pids are meaningless here.
	Hostname string
}

// NewProcessProber returns a ProcessProber for the current host.
func NewProcessProber() *ProcessProber {
	return &ProcessProber{Hostname: Hostname()}
}

// Probe reports whether pid is running on this host.
func (p *ProcessProber) Probe(pid int, host string) Result {
	if pid <= 0 {
		return Unknown
	}
	if host != "" && p.Hostname != "" && host != p.Hostname {
		return Unknown
	}
	return probePID(pid)
}

var (
	hostnameOnce sync.Once
	hostname     string
)

// Hostname returns the local hostname, or "" if it cannot be determined.
func Hostname() string {
	hostnameOnce.Do(func() {
		hostname, _ = os.Hostname()
	})
	return hostname
}
