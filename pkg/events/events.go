// Package events defines event types for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries all execution lifecycle events.
const Topic = "fluxway.execution.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent       EventType = "execution.started"
	ExecutionStepCompletedEvent EventType = "execution.step.completed"
	ExecutionStepFailedEvent    EventType = "execution.step.failed"
	ExecutionStepSkippedEvent   EventType = "execution.step.skipped"
	ExecutionRetryingEvent      EventType = "execution.retrying"
	ExecutionCompletedEvent     EventType = "execution.completed"
	ExecutionFailedEvent        EventType = "execution.failed"
	ExecutionPausedEvent        EventType = "execution.paused"
	ExecutionResumedEvent       EventType = "execution.resumed"
	ExecutionCancelledEvent     EventType = "execution.cancelled"
)

// AllTypes lists every execution lifecycle event type.
func AllTypes() []EventType {
	return []EventType{
		ExecutionStartedEvent,
		ExecutionStepCompletedEvent,
		ExecutionStepFailedEvent,
		ExecutionStepSkippedEvent,
		ExecutionRetryingEvent,
		ExecutionCompletedEvent,
		ExecutionFailedEvent,
		ExecutionPausedEvent,
		ExecutionResumedEvent,
		ExecutionCancelledEvent,
	}
}

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Base exposes the embedded envelope regardless of the concrete event type.
func (e BaseEvent) Base() BaseEvent {
	return e
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	TotalSteps int `json:"total_steps"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionStepCompleted struct {
	BaseEvent

	StepOrder  int            `json:"step_order"`
	StepUID    string         `json:"step_uid"`
	Attempt    int            `json:"attempt"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e ExecutionStepCompleted) GetType() EventType {
	return ExecutionStepCompletedEvent
}

type ExecutionStepFailed struct {
	BaseEvent

	StepOrder  int    `json:"step_order"`
	StepUID    string `json:"step_uid"`
	Attempt    int    `json:"attempt"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionStepFailed) GetType() EventType {
	return ExecutionStepFailedEvent
}

type ExecutionStepSkipped struct {
	BaseEvent

	StepOrder int    `json:"step_order"`
	StepUID   string `json:"step_uid"`
	Condition string `json:"condition"`
}

func (e ExecutionStepSkipped) GetType() EventType {
	return ExecutionStepSkippedEvent
}

type ExecutionRetrying struct {
	BaseEvent

	StepOrder    int       `json:"step_order"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	RetryAfter   time.Time `json:"retry_after"`
}

func (e ExecutionRetrying) GetType() EventType {
	return ExecutionRetryingEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Status         string         `json:"status"`
	DurationMs     int64          `json:"duration_ms"`
	CompletedSteps int            `json:"completed_steps"`
	Result         map[string]any `json:"result,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	StepOrder  int    `json:"step_order"`
	Error      string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionPaused struct {
	BaseEvent

	PausedBy    string                 `json:"paused_by"`
	FromStatus  models.ExecutionStatus `json:"from_status"`
	CurrentStep int                    `json:"current_step"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ResumedBy       string `json:"resumed_by"`
	CurrentStep     int    `json:"current_step"`
	PauseDurationMs int64  `json:"pause_duration_ms"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	CancelledBy string                 `json:"cancelled_by"`
	FromStatus  models.ExecutionStatus `json:"from_status"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}
