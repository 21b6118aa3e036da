package web

import (
	"time"

	"github.com/fluxway/fluxway/pkg/models"
)

// CreateWorkflowRequest is the payload for creating a workflow.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	Steps       []*models.WorkflowStep `json:"steps"       validate:"dive"`
	Metadata    map[string]any         `json:"metadata"`
	Owner       string                 `json:"owner"`
}

// UpdateWorkflowRequest is the payload for partially updating a workflow.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                `json:"description,omitempty"`
	Steps       []*models.WorkflowStep `json:"steps,omitempty"       validate:"omitempty,dive"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

// SubmitExecutionRequest is the payload for starting an execution.
type SubmitExecutionRequest struct {
	Params map[string]any `json:"params,omitempty"`
	Owner  string         `json:"owner,omitempty"`
}

// ControlRequest carries the actor behind a pause, resume or cancel.
type ControlRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// ExecutionResponse is the API view of an execution.
type ExecutionResponse struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	Status         models.ExecutionStatus `json:"status"`
	CurrentStep    int                    `json:"current_step"`
	TotalSteps     int                    `json:"total_steps"`
	CompletedSteps int                    `json:"completed_steps"`
	FailedSteps    int                    `json:"failed_steps"`
	AttemptCount   int                    `json:"attempt_count"`
	MaxAttempts    int                    `json:"max_attempts"`
	RetryAfter     *time.Time             `json:"retry_after,omitempty"`
	StepResults    []models.StepResult    `json:"step_results"`
	Result         map[string]any         `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	PausedAt       *time.Time             `json:"paused_at,omitempty"`
	PausedBy       string                 `json:"paused_by,omitempty"`
	ResumedAt      *time.Time             `json:"resumed_at,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
	DurationMs     int64                  `json:"duration_ms"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toExecutionResponse(execution *models.WorkflowExecution) *ExecutionResponse {
	return &ExecutionResponse{
		ID:             execution.ID,
		WorkflowID:     execution.WorkflowID,
		Status:         execution.Status,
		CurrentStep:    execution.CurrentStep,
		TotalSteps:     execution.TotalSteps,
		CompletedSteps: execution.CompletedSteps,
		FailedSteps:    execution.FailedSteps,
		AttemptCount:   execution.Retry.AttemptCount,
		MaxAttempts:    execution.Retry.MaxAttempts,
		RetryAfter:     execution.Retry.RetryAfter,
		StepResults:    execution.StepResults,
		Result:         execution.Result,
		Error:          execution.Error,
		PausedAt:       execution.PausedAt,
		PausedBy:       execution.PausedBy,
		ResumedAt:      execution.ResumedAt,
		StartedAt:      execution.StartedAt,
		FinishedAt:     execution.FinishedAt,
		DurationMs:     execution.ExecutionTimeMS,
		CreatedAt:      execution.CreatedAt,
	}
}

func toExecutionResponses(executions []*models.WorkflowExecution) []*ExecutionResponse {
	responses := make([]*ExecutionResponse, len(executions))
	for i, execution := range executions {
		responses[i] = toExecutionResponse(execution)
	}

	return responses
}
