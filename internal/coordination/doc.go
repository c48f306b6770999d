// Package coordination provides a Hub that wires the roster components
// together for one process.
//
// The Hub opens the shared record store and builds on it:
//
//	session.Manager → lock.Manager, taskqueue.Manager (cascade releasers)
//
// Plus process-local observers:
//
//   - Event bus (ownership changes made by this process)
//   - Metrics collector and optional HTTP endpoint
//   - Change notifier (mutations made by any process)
//   - Reaper (cron-scheduled sweep of dead sessions)
//
// Usage:
//
//	hub, err := coordination.NewHub(coordination.Config{
//	    Settings: cfg,
//	    BaseDir:  cwd,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer hub.Close()
//
//	id, err := hub.StartSession(ctx)
//	out, err := hub.Locks().Acquire(ctx, "db-migrate", id)
package coordination
