// Package taskqueue lets sessions claim discrete units of work from a shared
// backlog.
//
// Claims are advisory ownership records keyed by task id: the first session
// whose conditional write lands holds the task until it releases it,
// completes it, or stops being alive, at which point any other session may
// take it over. There is no fairness between competing claimants; a session
// that keeps losing races can starve, and callers that care must add their
// own backoff.
//
// The backlog is optional. Claim and ListUnclaimed accept any task id, so
// callers with their own work list can use claims alone. When tasks are
// added to the backlog, [Manager.ClaimNext] hands out the highest-priority
// pending task whose dependencies are all completed.
//
// Usage:
//
//	tasks, _ := taskqueue.NewManager(store, sessions)
//	id, _ := tasks.Backlog().Add(ctx, taskqueue.AddRequest{Title: "index docs"})
//	task, _ := tasks.ClaimNext(ctx, sessionID)
//	if task != nil {
//	    // ... do the work ...
//	    _ = tasks.Complete(ctx, task.ID, sessionID)
//	}
package taskqueue
