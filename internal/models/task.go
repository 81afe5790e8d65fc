package models

import "time"

// TaskStatus is the lifecycle status of a Task within a Run.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "PENDING"
	TaskStatusRunning         TaskStatus = "RUNNING"
	TaskStatusSubmitted       TaskStatus = "SUBMITTED"
	TaskStatusWaitingExternal TaskStatus = "WAITING_EXTERNAL"
	TaskStatusCompleted       TaskStatus = "COMPLETED"
	TaskStatusSkipped         TaskStatus = "SKIPPED"
	TaskStatusFailed          TaskStatus = "FAILED"
	TaskStatusCancelled       TaskStatus = "CANCELLED"
)

// Terminal reports whether no further attempt will be scheduled for this
// status without an explicit rerun.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusSkipped, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a task currently holds an execution slot.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusRunning, TaskStatusSubmitted, TaskStatusWaitingExternal:
		return true
	default:
		return false
	}
}

// Task is a single unit of work inside a Workflow.
type Task struct {
	TaskID                 string
	RunID                  string
	WorkflowID             string
	OperatorKey            string
	Status                 TaskStatus
	Image                  string
	Command                string
	Files                  []string
	Env                    map[string]string
	Dependencies           []string
	Cores                  int
	MemoryGB               float64
	GPUs                   int
	TimeLimitMinutes       int
	AllowDependencyFailure bool
	AllowFailure           bool
	DownloadPatterns       []string
	CurrentAttemptID       string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AttemptStatus mirrors ExternalRunStatus in the operator lifecycle contract.
type AttemptStatus string

const (
	AttemptStatusCreated         AttemptStatus = "CREATED"
	AttemptStatusSubmitted       AttemptStatus = "SUBMITTED"
	AttemptStatusRunning         AttemptStatus = "RUNNING"
	AttemptStatusCompleted       AttemptStatus = "COMPLETED"
	AttemptStatusFailed          AttemptStatus = "FAILED"
	// AttemptStatusFailedInit marks an attempt that never reached a
	// running job: the operator's prepare or submit call itself errored,
	// so there is no handle to poll or cancel.
	AttemptStatusFailedInit      AttemptStatus = "FAILED_INIT"
	AttemptStatusCancelled       AttemptStatus = "CANCELLED"
	AttemptStatusWaitingExternal AttemptStatus = "WAITING_EXTERNAL"
)

// Terminal reports whether the attempt will no longer be polled.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusCompleted, AttemptStatusFailed, AttemptStatusFailedInit, AttemptStatusCancelled:
		return true
	default:
		return false
	}
}

// Attempt is one execution of a Task against an operator.
type Attempt struct {
	AttemptID    string
	TaskID       string
	RunID        string
	AttemptIndex int
	OperatorKey  string
	Status       AttemptStatus
	Handle       string // operator-defined external handle (job id, pid, exchange path)
	ExitCode     *int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
