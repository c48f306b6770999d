package taskqueue

import (
	"time"
)

// TaskStatus is the backlog state of a task. Who is working on a task is
// tracked by its claim, not here.
type TaskStatus string

const (
	// TaskPending indicates the task still needs doing.
	TaskPending TaskStatus = "pending"

	// TaskCompleted indicates a claimant finished the task.
	TaskCompleted TaskStatus = "completed"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted
}

// Task is a backlog entry.
type Task struct {
	ID          string     `json:"task_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Priority    int        `json:"priority"` // lower runs first
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// AddRequest describes a task to append to the backlog.
type AddRequest struct {
	// ID is optional; a random id is generated when empty.
	ID          string
	Title       string
	Description string
	DependsOn   []string
	Priority    int
}

// BacklogStatus counts backlog entries by state.
type BacklogStatus struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Blocked   int `json:"blocked"`
	Completed int `json:"completed"`
}
