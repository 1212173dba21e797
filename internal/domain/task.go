package domain

import (
	"time"
)

// ExecutionStatus is the overall state of an ingestion task.
type ExecutionStatus string

// Task execution statuses.
const (
	StatusPending    ExecutionStatus = "pending"
	StatusProcessing ExecutionStatus = "processing"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state. A task never
// leaves a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ComponentStatus is the state of a single task component.
type ComponentStatus string

// Component statuses.
const (
	ComponentPending    ComponentStatus = "pending"
	ComponentProcessing ComponentStatus = "processing"
	ComponentWaiting    ComponentStatus = "waiting"
	ComponentSuccess    ComponentStatus = "success"
	ComponentFailed     ComponentStatus = "failed"
)

// ComponentName identifies one of the three pipeline components.
type ComponentName string

// Component names.
const (
	ComponentMetadata   ComponentName = "metadata"
	ComponentContent    ComponentName = "content"
	ComponentReferences ComponentName = "references"
)

// ResultType describes the outcome of a completed task.
type ResultType string

// Task result types.
const (
	ResultCreated   ResultType = "created"
	ResultDuplicate ResultType = "duplicate"
)

// Progress weights per component when computing overall task progress.
const (
	metadataWeight   = 0.40
	contentWeight    = 0.30
	referencesWeight = 0.30
)

// ErrorInfo carries a user-facing error description for a task or component.
// Details preserves the raw provider error but is never the primary text.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ComponentState tracks per-component status, stage, and progress on a task.
type ComponentState struct {
	Status     ComponentStatus `json:"status"`
	Stage      string          `json:"stage,omitempty"`
	Progress   int             `json:"progress"`
	Source     string          `json:"source,omitempty"`
	Attempts   int             `json:"attempts"`
	NextAction string          `json:"next_action,omitempty"`
	ErrorInfo  *ErrorInfo      `json:"error_info,omitempty"`
}

// Advance moves the component to the given status/stage and raises progress.
// Progress is monotonic: a lower value than the current one is ignored.
func (c *ComponentState) Advance(status ComponentStatus, stage string, progress int) {
	c.Status = status
	if stage != "" {
		c.Stage = stage
	}
	if progress > c.Progress {
		c.Progress = progress
	}
	if status == ComponentSuccess {
		c.Progress = 100
	}
}

// Task is an ingestion job tracked by the coordinator.
type Task struct {
	TaskID          string                           `json:"task_id"`
	SubmittedSource string                           `json:"submitted_source"`
	Submission      Submission                       `json:"submission"`
	ExecutionStatus ExecutionStatus                  `json:"execution_status"`
	OverallProgress int                              `json:"overall_progress"`
	CurrentStage    string                           `json:"current_stage,omitempty"`
	Components      map[ComponentName]ComponentState `json:"components"`
	ResultType      ResultType                       `json:"result_type,omitempty"`
	LiteratureID    string                           `json:"literature_id,omitempty"`
	ErrorInfo       *ErrorInfo                       `json:"error_info,omitempty"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
	CompletedAt     *time.Time                       `json:"completed_at,omitempty"`
}

// NewTask creates a pending task for the given submission.
func NewTask(taskID string, sub Submission, now time.Time) *Task {
	return &Task{
		TaskID:          taskID,
		SubmittedSource: sub.CanonicalSource(),
		Submission:      sub,
		ExecutionStatus: StatusPending,
		Components: map[ComponentName]ComponentState{
			ComponentMetadata:   {Status: ComponentPending},
			ComponentContent:    {Status: ComponentPending},
			ComponentReferences: {Status: ComponentPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Component returns the state of the named component. Unknown names return a
// zero state.
func (t *Task) Component(name ComponentName) ComponentState {
	if t.Components == nil {
		return ComponentState{}
	}
	return t.Components[name]
}

// SetComponent stores the state of the named component and recomputes the
// overall progress and current stage.
func (t *Task) SetComponent(name ComponentName, state ComponentState) {
	if t.Components == nil {
		t.Components = make(map[ComponentName]ComponentState)
	}
	t.Components[name] = state
	t.recompute()
}

// recompute derives OverallProgress as the weighted average of component
// progress (metadata 40%, content 30%, references 30%) and CurrentStage as the
// stage of the most-advanced active component.
func (t *Task) recompute() {
	meta := t.Components[ComponentMetadata]
	content := t.Components[ComponentContent]
	refs := t.Components[ComponentReferences]

	progress := int(metadataWeight*float64(meta.Progress) +
		contentWeight*float64(content.Progress) +
		referencesWeight*float64(refs.Progress))
	if progress > t.OverallProgress {
		t.OverallProgress = progress
	}

	best := -1
	for _, c := range []ComponentState{meta, content, refs} {
		if c.Status == ComponentProcessing && c.Progress > best && c.Stage != "" {
			best = c.Progress
			t.CurrentStage = c.Stage
		}
	}
}

// Finish moves the task into a terminal state. Calling Finish on an already
// terminal task is a no-op, so a completed event can never follow a cancelled
// or failed one.
func (t *Task) Finish(status ExecutionStatus, now time.Time) bool {
	if t.ExecutionStatus.IsTerminal() {
		return false
	}
	t.ExecutionStatus = status
	t.UpdatedAt = now
	t.CompletedAt = &now
	if status == StatusCompleted {
		t.OverallProgress = 100
	}
	return true
}

// CriticalSucceeded reports whether at least one critical component
// (metadata or references) succeeded, or the task resolved as a duplicate.
func (t *Task) CriticalSucceeded() bool {
	if t.ResultType == ResultDuplicate {
		return true
	}
	return t.Component(ComponentMetadata).Status == ComponentSuccess ||
		t.Component(ComponentReferences).Status == ComponentSuccess
}
