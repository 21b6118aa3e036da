package models

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
// The set is closed; transitions are validated by CanTransitionTo.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusRetrying  ExecutionStatus = "retrying"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusRetrying:
		return false
	}

	return false
}

// CanTransitionTo validates a state transition. Every legal edge of the
// execution state machine is enumerated here so that adding a state forces
// this switch to be revisited.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		switch next {
		case ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusCancelled:
			return true
		case ExecutionStatusPending, ExecutionStatusRetrying, ExecutionStatusCompleted, ExecutionStatusFailed:
			return false
		}
	case ExecutionStatusRunning:
		switch next {
		case ExecutionStatusRunning, ExecutionStatusRetrying, ExecutionStatusCompleted,
			ExecutionStatusFailed, ExecutionStatusPaused, ExecutionStatusCancelled:
			return true
		case ExecutionStatusPending:
			return false
		}
	case ExecutionStatusRetrying:
		switch next {
		case ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusCancelled:
			return true
		case ExecutionStatusPending, ExecutionStatusRetrying, ExecutionStatusCompleted, ExecutionStatusFailed:
			return false
		}
	case ExecutionStatusPaused:
		switch next {
		case ExecutionStatusPending, ExecutionStatusCancelled:
			return true
		case ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusRetrying,
			ExecutionStatusCompleted, ExecutionStatusFailed:
			return false
		}
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return false
	}

	return false
}

// StepStatus classifies the outcome of a single step attempt.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records one attempt of one step. Entries are append-only; a step
// that is retried accumulates one entry per attempt.
type StepResult struct {
	StepOrder  int            `json:"step_order"`
	StepUID    string         `json:"step_uid"`
	Attempt    int            `json:"attempt"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// RetryState tracks retry bookkeeping for the current step of an execution.
// It is reset whenever a step completes so the attempt budget applies
// per-step, not per-execution.
type RetryState struct {
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	RetryAfter   *time.Time `json:"retry_after,omitempty"`
}

// DefaultMaxAttempts is the execution-level attempt budget applied when a
// step does not carry its own RetryConfig.
const DefaultMaxAttempts = 3

// Reset clears the retry bookkeeping for the next step.
func (r *RetryState) Reset(maxAttempts int) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	r.AttemptCount = 0
	r.MaxAttempts = maxAttempts
	r.RetryAfter = nil
}

// WorkflowExecution is the aggregate root of the engine: one run of a
// workflow, with its own state, progress counters, retry bookkeeping, queue
// linkage and audit trail. Mutated exclusively by the coordinator and the
// control service, always through a version-guarded update.
type WorkflowExecution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Owner      string `json:"owner"`

	Status ExecutionStatus `json:"status"`

	// Params are the caller-supplied inputs, available to conditions and
	// templates for the lifetime of the execution.
	Params map[string]any `json:"params,omitempty"`

	// Steps is the immutable plan snapshotted from the workflow at submit
	// time.
	Steps []*WorkflowStep `json:"steps"`

	CurrentStep    int `json:"current_step"`
	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	FailedSteps    int `json:"failed_steps"`

	Retry RetryState `json:"retry"`

	QueueJobID string `json:"queue_job_id,omitempty"`
	QueueName  string `json:"queue_name,omitempty"`

	PausedAt  *time.Time `json:"paused_at,omitempty"`
	PausedBy  string     `json:"paused_by,omitempty"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
	ResumedBy string     `json:"resumed_by,omitempty"`

	Result          map[string]any `json:"result,omitempty"`
	StepResults     []StepResult   `json:"step_results"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Version is the optimistic concurrency token; every persisted update is
	// conditioned on the previously-read value.
	Version int64 `json:"version"`
}

// CurrentStepDef returns the step the execution is positioned at, or nil when
// the execution has consumed all steps.
func (e *WorkflowExecution) CurrentStepDef() *WorkflowStep {
	if e.CurrentStep < 0 || e.CurrentStep >= len(e.Steps) {
		return nil
	}

	return e.Steps[e.CurrentStep]
}

// AppendStepResult records one step attempt.
func (e *WorkflowExecution) AppendStepResult(result StepResult) {
	e.StepResults = append(e.StepResults, result)
}

// ResultsByUID indexes the most recent result of each step by its UID, used
// when evaluating conditions and rendering parameters of later steps.
func (e *WorkflowExecution) ResultsByUID() map[string]any {
	results := make(map[string]any, len(e.StepResults))
	for _, r := range e.StepResults {
		results[r.StepUID] = map[string]any{
			"status": string(r.Status),
			"output": r.Output,
			"error":  r.Error,
		}
	}

	return results
}

// CheckCounters reports whether the progress counters satisfy the engine
// invariants. Violations are programming errors.
func (e *WorkflowExecution) CheckCounters() bool {
	if e.CompletedSteps+e.FailedSteps > e.TotalSteps {
		return false
	}

	if e.CompletedSteps > e.CurrentStep {
		return false
	}

	return e.CurrentStep >= 0 && e.CurrentStep <= e.TotalSteps
}
