// Package session manages the lifecycle of session records: one per running
// agent process, created on start, renewed by heartbeat and marked
// terminated on graceful exit or when another process finds it dead.
//
// A session is alive while its status is active, its last heartbeat is
// younger than the staleness threshold and the liveness probe does not
// report its owning process as gone. The staleness threshold is the policy
// knob trading premature reclamation of a slow session's resources against
// slow recovery from a crashed one; the default is three heartbeat
// intervals.
//
// Terminating a session cascades: every registered [Releaser] (the lock and
// task managers) drops whatever the session still holds.
package session
