package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), "expected %s to be terminal", status)
	}

	live := []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusRetrying}
	for _, status := range live {
		assert.False(t, status.IsTerminal(), "expected %s not to be terminal", status)
	}
}

func TestExecutionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to running", ExecutionStatusPending, ExecutionStatusRunning, true},
		{"pending to paused", ExecutionStatusPending, ExecutionStatusPaused, true},
		{"pending to cancelled", ExecutionStatusPending, ExecutionStatusCancelled, true},
		{"pending to completed", ExecutionStatusPending, ExecutionStatusCompleted, false},
		{"pending to failed", ExecutionStatusPending, ExecutionStatusFailed, false},
		{"running to running", ExecutionStatusRunning, ExecutionStatusRunning, true},
		{"running to retrying", ExecutionStatusRunning, ExecutionStatusRetrying, true},
		{"running to completed", ExecutionStatusRunning, ExecutionStatusCompleted, true},
		{"running to failed", ExecutionStatusRunning, ExecutionStatusFailed, true},
		{"running to paused", ExecutionStatusRunning, ExecutionStatusPaused, true},
		{"running to cancelled", ExecutionStatusRunning, ExecutionStatusCancelled, true},
		{"running to pending", ExecutionStatusRunning, ExecutionStatusPending, false},
		{"retrying to running", ExecutionStatusRetrying, ExecutionStatusRunning, true},
		{"retrying to paused", ExecutionStatusRetrying, ExecutionStatusPaused, true},
		{"retrying to cancelled", ExecutionStatusRetrying, ExecutionStatusCancelled, true},
		{"retrying to completed", ExecutionStatusRetrying, ExecutionStatusCompleted, false},
		{"paused to pending", ExecutionStatusPaused, ExecutionStatusPending, true},
		{"paused to cancelled", ExecutionStatusPaused, ExecutionStatusCancelled, true},
		{"paused to running", ExecutionStatusPaused, ExecutionStatusRunning, false},
		{"completed is terminal", ExecutionStatusCompleted, ExecutionStatusRunning, false},
		{"failed is terminal", ExecutionStatusFailed, ExecutionStatusCancelled, false},
		{"cancelled is terminal", ExecutionStatusCancelled, ExecutionStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRetryState_Reset(t *testing.T) {
	state := RetryState{AttemptCount: 2, MaxAttempts: 5}
	after := time.Now().Add(time.Minute)
	state.RetryAfter = &after

	state.Reset(7)

	assert.Equal(t, 0, state.AttemptCount)
	assert.Equal(t, 7, state.MaxAttempts)
	assert.Nil(t, state.RetryAfter)

	state.Reset(0)
	assert.Equal(t, DefaultMaxAttempts, state.MaxAttempts)
}

func TestWorkflowExecution_CurrentStepDef(t *testing.T) {
	execution := &WorkflowExecution{
		Steps: []*WorkflowStep{
			{StepOrder: 0, UID: "first"},
			{StepOrder: 1, UID: "second"},
		},
	}

	assert.Equal(t, "first", execution.CurrentStepDef().UID)

	execution.CurrentStep = 1
	assert.Equal(t, "second", execution.CurrentStepDef().UID)

	execution.CurrentStep = 2
	assert.Nil(t, execution.CurrentStepDef())
}

func TestWorkflowExecution_ResultsByUID(t *testing.T) {
	execution := &WorkflowExecution{}
	execution.AppendStepResult(StepResult{StepUID: "fetch", Attempt: 1, Status: StepStatusFailed, Error: "boom"})
	execution.AppendStepResult(StepResult{
		StepUID: "fetch", Attempt: 2, Status: StepStatusSucceeded,
		Output: map[string]any{"status_code": 200},
	})

	results := execution.ResultsByUID()

	// The latest attempt wins.
	fetch, ok := results["fetch"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, string(StepStatusSucceeded), fetch["status"])
	assert.Empty(t, fetch["error"])
}

func TestWorkflowExecution_CheckCounters(t *testing.T) {
	tests := []struct {
		name      string
		execution WorkflowExecution
		ok        bool
	}{
		{"zeroed", WorkflowExecution{}, true},
		{"in progress", WorkflowExecution{CurrentStep: 2, TotalSteps: 3, CompletedSteps: 2}, true},
		{"all done", WorkflowExecution{CurrentStep: 3, TotalSteps: 3, CompletedSteps: 3}, true},
		{"sum exceeds total", WorkflowExecution{TotalSteps: 2, CompletedSteps: 2, FailedSteps: 1, CurrentStep: 2}, false},
		{"completed ahead of cursor", WorkflowExecution{CurrentStep: 1, TotalSteps: 3, CompletedSteps: 2}, false},
		{"cursor past total", WorkflowExecution{CurrentStep: 4, TotalSteps: 3}, false},
		{"negative cursor", WorkflowExecution{CurrentStep: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.execution.CheckCounters())
		})
	}
}
