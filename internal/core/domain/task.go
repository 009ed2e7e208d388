package domain

import "time"

// TaskStatus is the lifecycle state of an observable task.
type TaskStatus string

const (
	TaskStatusIdle      TaskStatus = "idle"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// IsTerminal reports whether the status ends an invocation.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCanceled
}

// TaskEvent is emitted once per completed task invocation. It is never mutated after creation.
type TaskEvent struct {
	RunID     string
	Name      string
	Status    TaskStatus
	StartedAt time.Time
	Elapsed   time.Duration
	Err       error
	IsRefresh bool
}

// TaskSnapshot is a point-in-time view of a task for status reporting.
type TaskSnapshot struct {
	Name      string        `json:"name"`
	URI       string        `json:"uri,omitempty"`
	Status    TaskStatus    `json:"status"`
	Progress  float64       `json:"progress"`
	RunID     string        `json:"run_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
