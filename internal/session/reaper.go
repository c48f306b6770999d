package session

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
)

// DefaultReapConcurrency bounds how many sessions a sweep terminates at once.
const DefaultReapConcurrency = 4

// Reaper terminates sessions that are still marked active but are no
// longer alive, so their locks and claims return to the pool without
// waiting for an acquirer to notice.
type Reaper struct {
	manager     *Manager
	concurrency int
}

// NewReaper creates a Reaper. A concurrency below 1 uses DefaultReapConcurrency.
func NewReaper(m *Manager, concurrency int) *Reaper {
	if concurrency < 1 {
		concurrency = DefaultReapConcurrency
	}
	return &Reaper{manager: m, concurrency: concurrency}
}

// Sweep terminates every dead active session and returns their ids. Errors
// for individual sessions are joined; sessions that were reaped
// successfully are still returned.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	sessions, err := r.manager.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		reaped []string
	)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.concurrency)
	for _, s := range sessions {
		if s.Status != StatusActive || r.manager.Alive(s) {
			continue
		}
		id := s.ID
		p.Go(func(ctx context.Context) error {
			wrote, err := r.manager.terminate(ctx, id, event.ReasonReaped, true)
			if err != nil {
				return errors.Wrapf(err, "reap %s", id)
			}
			if !wrote {
				return nil // revived, or another process got there first
			}
			mu.Lock()
			reaped = append(reaped, id)
			mu.Unlock()
			return nil
		})
	}
	err = p.Wait()

	if len(reaped) > 0 {
		r.manager.logger.Info("reaped dead sessions", "count", len(reaped))
	}
	return reaped, err
}
