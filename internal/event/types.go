package event

import "time"

// Event is the interface that all events implement.
type Event interface {
	// EventType returns "category.action", e.g. "lock.granted".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types published by the coordination managers.
const (
	TypeSessionStarted    = "session.started"
	TypeSessionHeartbeat  = "session.heartbeat"
	TypeSessionTerminated = "session.terminated"
	TypeLockGranted       = "lock.granted"
	TypeLockDenied        = "lock.denied"
	TypeLockReleased      = "lock.released"
	TypeTaskClaimed       = "task.claimed"
	TypeTaskDenied        = "task.denied"
	TypeTaskReleased      = "task.released"
	TypeTaskAdded         = "task.added"
	TypeTaskCompleted     = "task.completed"
	TypeRecordReclaimed   = "record.reclaimed"
)

// Kinds of owned record.
const (
	KindLock = "lock"
	KindTask = "task"
)

// Reasons attached to released and terminated events.
const (
	ReasonReleased  = "released"
	ReasonCascade   = "cascade"
	ReasonCompleted = "completed"
	ReasonGraceful  = "graceful"
	ReasonReaped    = "reaped"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// SessionStartedEvent is emitted when a session registers.
type SessionStartedEvent struct {
	baseEvent
	SessionID string
	PID       int
	Hostname  string
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID string, pid int, hostname string) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent(TypeSessionStarted),
		SessionID: sessionID,
		PID:       pid,
		Hostname:  hostname,
	}
}

// SessionHeartbeatEvent is emitted after a heartbeat is recorded.
type SessionHeartbeatEvent struct {
	baseEvent
	SessionID string
}

// NewSessionHeartbeatEvent creates a SessionHeartbeatEvent.
func NewSessionHeartbeatEvent(sessionID string) SessionHeartbeatEvent {
	return SessionHeartbeatEvent{
		baseEvent: newBaseEvent(TypeSessionHeartbeat),
		SessionID: sessionID,
	}
}

// SessionTerminatedEvent is emitted once per session, by whichever process
// wrote the terminated status.
type SessionTerminatedEvent struct {
	baseEvent
	SessionID string
	Reason    string // ReasonGraceful or ReasonReaped
	Released  int    // locks and claims released by the cascade
}

// NewSessionTerminatedEvent creates a SessionTerminatedEvent.
func NewSessionTerminatedEvent(sessionID, reason string, released int) SessionTerminatedEvent {
	return SessionTerminatedEvent{
		baseEvent: newBaseEvent(TypeSessionTerminated),
		SessionID: sessionID,
		Reason:    reason,
		Released:  released,
	}
}

// GrantedEvent is emitted when a lock is acquired or a task is claimed.
type GrantedEvent struct {
	baseEvent
	Kind      string
	Name      string
	SessionID string
}

// NewGrantedEvent creates a lock.granted or task.claimed event.
func NewGrantedEvent(kind, name, sessionID string) GrantedEvent {
	t := TypeLockGranted
	if kind == KindTask {
		t = TypeTaskClaimed
	}
	return GrantedEvent{baseEvent: newBaseEvent(t), Kind: kind, Name: name, SessionID: sessionID}
}

// DeniedEvent is emitted when an acquire or claim finds a live holder.
type DeniedEvent struct {
	baseEvent
	Kind      string
	Name      string
	SessionID string
	Holder    string
}

// NewDeniedEvent creates a lock.denied or task.denied event.
func NewDeniedEvent(kind, name, sessionID, holder string) DeniedEvent {
	t := TypeLockDenied
	if kind == KindTask {
		t = TypeTaskDenied
	}
	return DeniedEvent{baseEvent: newBaseEvent(t), Kind: kind, Name: name, SessionID: sessionID, Holder: holder}
}

// ReleasedEvent is emitted when a holder gives up a lock or claim.
type ReleasedEvent struct {
	baseEvent
	Kind      string
	Name      string
	SessionID string
	Reason    string // ReasonReleased, ReasonCascade or ReasonCompleted
}

// NewReleasedEvent creates a lock.released or task.released event.
func NewReleasedEvent(kind, name, sessionID, reason string) ReleasedEvent {
	t := TypeLockReleased
	if kind == KindTask {
		t = TypeTaskReleased
	}
	return ReleasedEvent{baseEvent: newBaseEvent(t), Kind: kind, Name: name, SessionID: sessionID, Reason: reason}
}

// ReclaimedEvent is emitted when a record held by a dead or stale session is
// taken over by another session.
type ReclaimedEvent struct {
	baseEvent
	Kind           string
	Name           string
	SessionID      string
	PreviousHolder string
}

// NewReclaimedEvent creates a ReclaimedEvent.
func NewReclaimedEvent(kind, name, sessionID, previous string) ReclaimedEvent {
	return ReclaimedEvent{
		baseEvent:      newBaseEvent(TypeRecordReclaimed),
		Kind:           kind,
		Name:           name,
		SessionID:      sessionID,
		PreviousHolder: previous,
	}
}

// TaskAddedEvent is emitted when a task is appended to the backlog.
type TaskAddedEvent struct {
	baseEvent
	TaskID string
	Title  string
}

// NewTaskAddedEvent creates a TaskAddedEvent.
func NewTaskAddedEvent(taskID, title string) TaskAddedEvent {
	return TaskAddedEvent{baseEvent: newBaseEvent(TypeTaskAdded), TaskID: taskID, Title: title}
}

// TaskCompletedEvent is emitted when a claimant marks a backlog task done.
type TaskCompletedEvent struct {
	baseEvent
	TaskID    string
	SessionID string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, sessionID string) TaskCompletedEvent {
	return TaskCompletedEvent{baseEvent: newBaseEvent(TypeTaskCompleted), TaskID: taskID, SessionID: sessionID}
}
