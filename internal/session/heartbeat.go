package session

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/roster/internal/errors"
)

// Heartbeater renews a session on a fixed interval until stopped, until its
// context is cancelled, or until the session is terminated elsewhere.
type Heartbeater struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartHeartbeat launches a Heartbeater for id. Transient store errors are
// logged and retried on the next tick; a terminated or missing session
// stops the loop and is reported by Err.
func (m *Manager) StartHeartbeat(ctx context.Context, id string, interval time.Duration) *Heartbeater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeater{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := m.Heartbeat(ctx, id)
				switch {
				case err == nil:
				case ctx.Err() != nil:
					return
				case errors.Is(err, errors.ErrSessionTerminated), errors.Is(err, errors.ErrSessionNotFound):
					m.logger.Warn("heartbeat stopped", "session_id", id, "error", err)
					h.setErr(err)
					return
				default:
					m.logger.Warn("heartbeat failed", "session_id", id, "error", err)
				}
			}
		}
	}()
	return h
}

// Done is closed when the heartbeat loop exits.
func (h *Heartbeater) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that ended the loop, or nil if it was stopped.
func (h *Heartbeater) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop ends the loop and waits for it to exit.
func (h *Heartbeater) Stop() error {
	h.cancel()
	<-h.done
	return h.Err()
}

func (h *Heartbeater) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}
