package domain

import "time"

// EventKind classifies a task event published on the task's channel.
type EventKind string

// Task event kinds. "error" is a non-fatal per-component error; "failed" is
// terminal.
const (
	EventStatus    EventKind = "status"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
	EventFailed    EventKind = "failed"
)

// TaskEvent is one update on a task's event stream. Payload is the status
// snapshot at the time the event was published.
type TaskEvent struct {
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   *Task     `json:"payload,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *TaskEvent) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// EventForStatus maps a terminal execution status to its stream event kind.
func EventForStatus(status ExecutionStatus) EventKind {
	switch status {
	case StatusCompleted, StatusCancelled:
		return EventCompleted
	case StatusFailed:
		return EventFailed
	}
	return EventStatus
}
