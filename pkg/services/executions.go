package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/google/uuid"
)

// controlRetries bounds the reload-and-retry loop control operations run
// when a version-guarded update loses to a concurrent writer.
const controlRetries = 3

// Executions implements the control surface of the engine: submitting new
// executions and pausing, resuming and cancelling in-flight ones. Every
// mutation goes through the same version-guarded update the coordinator
// uses, so control operations and workers never clobber each other.
type Executions struct {
	persistence persistence.Persistence
	queue       queue.Queue
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

func NewExecutions(persist persistence.Persistence, jobQueue queue.Queue, eventBus eventbus.EventPublisher) *Executions {
	return &Executions{
		persistence: persist,
		queue:       jobQueue,
		eventBus:    eventBus,
		logger:      log.WithModule("services.executions"),
	}
}

// Submit creates a new execution of the workflow and makes it deliverable.
// The workflow's step list is snapshotted onto the execution, so later
// edits to the workflow never affect this run.
func (s *Executions) Submit(ctx context.Context, workflowID, owner string, params map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := s.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, workflow.Status, ErrWorkflowNotActive)
	}

	steps := workflow.StepsInOrder()
	if len(steps) == 0 {
		return nil, ErrWorkflowNoSteps
	}

	if err := models.ValidateStepOrders(steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDuplicateStepOrder, err)
	}

	now := time.Now().UTC()
	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Owner:      owner,
		Status:     models.ExecutionStatusPending,
		Params:     params,
		Steps:      steps,
		TotalSteps: len(steps),
		QueueJobID: queue.NewJobID(),
		CreatedAt:  now,
	}
	execution.Retry.Reset(stepMaxAttempts(steps[0]))

	// The job id is durably recorded before the job exists, so a delivery
	// can never arrive ahead of the write that the worker matches it
	// against.
	err = s.persistence.ExecutionRepository().CreateExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	err = s.queue.Enqueue(ctx, execution.QueueJobID, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution submitted",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"job_id", execution.QueueJobID,
		"total_steps", execution.TotalSteps,
	)

	return execution, nil
}

// Pause stops an execution before its next step. A paused execution keeps
// its position and retry bookkeeping; Resume picks up exactly where it
// left off. Pausing an already-paused execution is a no-op.
func (s *Executions) Pause(ctx context.Context, executionID, pausedBy string) (*models.WorkflowExecution, error) {
	var fromStatus models.ExecutionStatus

	execution, err := s.mutate(ctx, executionID, func(e *models.WorkflowExecution) error {
		if e.Status == models.ExecutionStatusPaused {
			return nil
		}

		if e.Status.IsTerminal() {
			return fmt.Errorf("execution %s is %s: %w", executionID, e.Status, ErrExecutionTerminal)
		}

		if !e.Status.CanTransitionTo(models.ExecutionStatusPaused) {
			return fmt.Errorf("cannot pause execution in status %s: %w", e.Status, ErrInvalidState)
		}

		fromStatus = e.Status
		now := time.Now().UTC()

		e.Status = models.ExecutionStatusPaused
		e.PausedAt = &now
		e.PausedBy = pausedBy
		e.ResumedAt = nil
		e.ResumedBy = ""

		return nil
	})
	if err != nil {
		return nil, err
	}

	if fromStatus != "" {
		s.logger.InfoContext(ctx, "Execution paused", "execution_id", executionID, "paused_by", pausedBy)
		s.publish(ctx, execution, events.ExecutionPaused{
			BaseEvent:   events.NewBaseEvent(events.ExecutionPausedEvent, execution.WorkflowID, execution.ID),
			PausedBy:    pausedBy,
			FromStatus:  fromStatus,
			CurrentStep: execution.CurrentStep,
		})
	}

	return execution, nil
}

// Resume re-enqueues a paused execution under a fresh job id. Any job
// still in flight for the old id becomes stale and is dropped on
// delivery.
func (s *Executions) Resume(ctx context.Context, executionID, resumedBy string) (*models.WorkflowExecution, error) {
	var pauseDuration time.Duration

	execution, err := s.mutate(ctx, executionID, func(e *models.WorkflowExecution) error {
		if e.Status.IsTerminal() {
			return fmt.Errorf("execution %s is %s: %w", executionID, e.Status, ErrExecutionTerminal)
		}

		if e.Status != models.ExecutionStatusPaused {
			return fmt.Errorf("execution %s has status %s: %w", executionID, e.Status, ErrExecutionNotPaused)
		}

		now := time.Now().UTC()
		if e.PausedAt != nil {
			pauseDuration = now.Sub(*e.PausedAt)
		}

		e.Status = models.ExecutionStatusPending
		e.QueueJobID = queue.NewJobID()
		e.ResumedAt = &now
		e.ResumedBy = resumedBy

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Enqueue only after the fresh id is durably recorded; a delivery
	// racing that write would be dropped as stale and strand the
	// execution.
	err = s.queue.Enqueue(ctx, execution.QueueJobID, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution resumed",
		"execution_id", executionID,
		"resumed_by", resumedBy,
		"job_id", execution.QueueJobID,
	)
	s.publish(ctx, execution, events.ExecutionResumed{
		BaseEvent:       events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID, execution.ID),
		ResumedBy:       resumedBy,
		CurrentStep:     execution.CurrentStep,
		PauseDurationMs: pauseDuration.Milliseconds(),
	})

	return execution, nil
}

// Cancel terminates an execution. Cancelling an already-cancelled
// execution is a no-op; cancelling a completed or failed one is a
// conflict.
func (s *Executions) Cancel(ctx context.Context, executionID, cancelledBy string) (*models.WorkflowExecution, error) {
	var fromStatus models.ExecutionStatus

	execution, err := s.mutate(ctx, executionID, func(e *models.WorkflowExecution) error {
		if e.Status == models.ExecutionStatusCancelled {
			return nil
		}

		if e.Status.IsTerminal() {
			return fmt.Errorf("execution %s is %s: %w", executionID, e.Status, ErrExecutionTerminal)
		}

		fromStatus = e.Status
		now := time.Now().UTC()

		e.Status = models.ExecutionStatusCancelled
		e.FinishedAt = &now

		if e.StartedAt != nil {
			e.ExecutionTimeMS = now.Sub(*e.StartedAt).Milliseconds()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if fromStatus != "" {
		s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "cancelled_by", cancelledBy)
		s.publish(ctx, execution, events.ExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, execution.ID),
			CancelledBy: cancelledBy,
			FromStatus:  fromStatus,
			DurationMs:  execution.ExecutionTimeMS,
		})
	}

	return execution, nil
}

// Status returns the current state of an execution.
func (s *Executions) Status(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
}

// List returns all executions of a workflow, newest first.
func (s *Executions) List(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	_, err := s.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().ExecutionsByWorkflow(ctx, workflowID)
}

// Logs returns the append-only log of an execution in sequence order.
func (s *Executions) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	_, err := s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return s.persistence.LogRepository().LogsForExecution(ctx, executionID)
}

// mutate loads the execution, applies fn and writes it back through the
// version guard, reloading and retrying when a concurrent writer got
// there first.
func (s *Executions) mutate(
	ctx context.Context,
	executionID string,
	fn func(*models.WorkflowExecution) error,
) (*models.WorkflowExecution, error) {
	var lastErr error

	for attempt := 0; attempt < controlRetries; attempt++ {
		execution, err := s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		before := execution.Version

		err = fn(execution)
		if err != nil {
			return nil, err
		}

		if execution.Version != before {
			return nil, fmt.Errorf("mutation must not touch the version field")
		}

		err = s.persistence.ExecutionRepository().UpdateExecution(ctx, execution)
		if err == nil {
			return execution, nil
		}

		if !persistence.IsVersionConflict(err) {
			return nil, fmt.Errorf("failed to update execution: %w", err)
		}

		lastErr = err
	}

	return nil, fmt.Errorf("gave up after %d conflicting updates: %w", controlRetries, lastErr)
}

func (s *Executions) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"execution_id", execution.ID,
			"error", err,
		)
	}
}

func stepMaxAttempts(step *models.WorkflowStep) int {
	if step == nil || step.Retry == nil {
		return 0
	}

	return step.Retry.MaxAttempts
}
