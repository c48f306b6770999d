// Package testutil provides helpers shared by roster's package tests:
// throwaway stores, a manually advanced clock and a scripted liveness prober.
package testutil

import (
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/roster/internal/liveness"
	"github.com/Iron-Ham/roster/internal/record"
)

// NewFileStore returns a FileStore in a fresh temporary directory.
func NewFileStore(t *testing.T) *record.FileStore {
	t.Helper()
	return FileStoreAt(t, t.TempDir())
}

// FileStoreAt returns a FileStore over dir. Several stores over one
// directory behave like independent processes sharing a workspace.
func FileStoreAt(t *testing.T, dir string) *record.FileStore {
	t.Helper()
	s, err := record.NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	return s
}

// NewSQLiteStore returns a SQLiteStore backed by a temporary database file.
func NewSQLiteStore(t *testing.T) *record.SQLiteStore {
	t.Helper()
	s, err := record.OpenSQLite(filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Clock is a manually advanced clock. The zero value is not usable; use NewClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t, which may be in the past.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Prober is a liveness.Prober whose answers are scripted per pid.
type Prober struct {
	mu       sync.Mutex
	results  map[int]liveness.Result
	fallback liveness.Result
	calls    int
}

// NewProber returns a Prober answering fallback for unscripted pids.
func NewProber(fallback liveness.Result) *Prober {
	return &Prober{results: make(map[int]liveness.Result), fallback: fallback}
}

// Set scripts the answer for pid.
func (p *Prober) Set(pid int, r liveness.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[pid] = r
}

// Probe implements liveness.Prober.
func (p *Prober) Probe(pid int, _ string) liveness.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if r, ok := p.results[pid]; ok {
		return r
	}
	return p.fallback
}

// Calls returns how many probes were made.
func (p *Prober) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Eventually polls cond every 10ms until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// SkipIfNoGolangciLint skips the test if golangci-lint is not installed.
func SkipIfNoGolangciLint(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not found in PATH, skipping test")
	}
}
