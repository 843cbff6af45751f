package tasks

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusWorking means the invocation is executing (or queued to execute).
	StatusWorking Status = "working"
	// StatusInputRequired means the invocation is suspended until the caller
	// delivers a resume decision.
	StatusInputRequired Status = "input_required"
	// StatusCompleted means the invocation finished and its result is stored.
	StatusCompleted Status = "completed"
	// StatusFailed means the invocation ended with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the invocation was stopped before finishing.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a point-in-time snapshot of one tracked invocation. Store lookups
// return copies; mutating a Task has no effect on the stored record.
type Task struct {
	// ID is the unguessable identifier assigned at creation, never reused.
	ID string

	// Status and StatusMessage reflect the last applied transition.
	Status        Status
	StatusMessage string

	// CreatedAt never changes; LastUpdatedAt moves forward on every
	// mutation and never on reads.
	CreatedAt     time.Time
	LastUpdatedAt time.Time

	// TTL is the effective retention window counted from CreatedAt. Zero
	// means unlimited, which only occurs when the store itself is
	// configured without a ceiling.
	TTL time.Duration

	// PollInterval is an advisory hint for pollers, never enforced.
	PollInterval time.Duration

	// Owner is the caller identity the task is bound to.
	Owner string

	// ToolName and Arguments are the invocation payload, stored verbatim.
	ToolName  string
	Arguments map[string]any

	// Result and Err are mutually exclusive and set exactly once, on the
	// terminal transition. Result holds whatever the runner returned and
	// is treated as immutable from then on.
	Result any
	Err    *TaskError
}

// Clone returns a copy safe to hand across goroutines. Arguments are copied
// one level deep; Result is shared because it is immutable once set.
func (t *Task) Clone() Task {
	c := *t
	if t.Arguments != nil {
		c.Arguments = make(map[string]any, len(t.Arguments))
		for k, v := range t.Arguments {
			c.Arguments[k] = v
		}
	}
	if t.Err != nil {
		e := *t.Err
		c.Err = &e
	}
	return c
}

// TaskError is the stored error payload of a failed or cancelled task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes carried by TaskError.
const (
	CodeExecutionFailed = "execution_failed"
	CodeCancelled       = "cancelled"
	CodeInputDeclined   = "input_declined"
)

// ResumeDecision is the external answer to an input_required suspension.
type ResumeDecision struct {
	// Accept resumes the invocation with Input; false stops it.
	Accept bool
	// Input is handed to the suspended runner on accept.
	Input map[string]any
	// Reason annotates a decline.
	Reason string
}
