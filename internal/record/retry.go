package record

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/roster/internal/errors"
)

// RetryPolicy bounds how often a read-modify-write cycle is retried after
// losing a conditional write race.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond}
}

// Do runs fn until it returns something other than errors.ErrConflict. Each
// attempt should re-read the record it conditionally writes. When every
// attempt conflicts, Do gives up with errors.ErrStoreUnavailable so callers
// see a bounded failure instead of livelock. Any other error from fn is
// returned as is.
func (p RetryPolicy) Do(ctx context.Context, op, key string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			// Linear backoff spreads out processes that collided on the same key.
			select {
			case <-time.After(time.Duration(attempt) * p.Backoff):
			case <-ctx.Done():
				return errors.NewStoreError(op, key, ctx.Err())
			}
		}

		err := fn()
		if err == nil || !errors.Is(err, errors.ErrConflict) {
			return err
		}
		lastErr = err
	}

	return errors.NewStoreError(op, key,
		fmt.Errorf("%w: gave up after %d conflicting attempts: %w", errors.ErrStoreUnavailable, attempts, lastErr))
}
