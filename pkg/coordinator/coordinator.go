// Package coordinator drives workflow executions. It consumes jobs from the
// queue, walks the execution's step plan, applies the retry policy and
// persists every state change through version-guarded updates. Delivery is
// at-least-once, so every decision re-checks persisted state first.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/conditions"
	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/otelhelper"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/fluxway/fluxway/pkg/retry"
	"github.com/fluxway/fluxway/pkg/runner"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrIllegalTransition reports an attempted state change the execution
// state machine forbids.
var ErrIllegalTransition = errors.New("illegal execution state transition")

type Coordinator struct {
	persistence persistence.Persistence
	queue       queue.Queue
	eventBus    eventbus.EventPublisher
	runner      *runner.Runner
	conditions  *conditions.Evaluator
	tracer      trace.Tracer
	logger      *slog.Logger
	workerID    string
}

func NewCoordinator(
	workerID string,
	persist persistence.Persistence,
	jobQueue queue.Queue,
	eventBus eventbus.EventPublisher,
	stepRunner *runner.Runner,
	tracer trace.Tracer,
) *Coordinator {
	return &Coordinator{
		persistence: persist,
		queue:       jobQueue,
		eventBus:    eventBus,
		runner:      stepRunner,
		conditions:  conditions.NewEvaluator(),
		tracer:      tracer,
		logger:      log.WithModule("coordinator").With("worker_id", workerID),
		workerID:    workerID,
	}
}

// Run consumes the queue until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Coordinator consuming execution jobs")

	return c.queue.Consume(ctx, c.HandleDelivery)
}

// HandleDelivery processes one delivered job. Returning nil acknowledges
// the delivery; returning a RedeliverError defers it.
func (c *Coordinator) HandleDelivery(ctx context.Context, job queue.Job) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "coordinator.handle_delivery",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.JobIDKey, job.JobID),
		attribute.String(otelhelper.WorkerIDKey, c.workerID),
	)
	defer span.End()

	logger := c.logger.With("execution_id", job.ExecutionID, "job_id", job.JobID)

	execution, err := c.persistence.ExecutionRepository().ExecutionByID(ctx, job.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "Dropping job for unknown execution")

			return nil
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load execution: %w", err)
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.StatusKey, string(execution.Status)),
	)

	// Stale deliveries reference a job id the execution no longer expects,
	// for example after a resume re-enqueued under a fresh id.
	if execution.QueueJobID != job.JobID {
		logger.InfoContext(ctx, "Dropping stale job", "expected_job_id", execution.QueueJobID)

		return nil
	}

	if execution.Status.IsTerminal() {
		logger.InfoContext(ctx, "Dropping job for terminal execution", "status", execution.Status)

		return nil
	}

	if execution.Status == models.ExecutionStatusPaused {
		logger.InfoContext(ctx, "Dropping job for paused execution")

		return nil
	}

	if execution.Status == models.ExecutionStatusRetrying {
		if execution.Retry.RetryAfter != nil && execution.Retry.RetryAfter.After(time.Now().UTC()) {
			return queue.Redeliver(*execution.Retry.RetryAfter)
		}
	}

	err = c.start(ctx, execution, logger)
	if err == nil {
		err = c.runSteps(ctx, execution, logger, span)
	}

	if errors.Is(err, errStopDelivery) {
		return nil
	}

	if err != nil {
		var redeliver *queue.RedeliverError
		if !errors.As(err, &redeliver) {
			otelhelper.SetError(span, err)
		}
	}

	return err
}

// start moves a pending or due-for-retry execution into running.
func (c *Coordinator) start(ctx context.Context, execution *models.WorkflowExecution, logger *slog.Logger) error {
	fresh := execution.Status == models.ExecutionStatusPending

	if err := c.transition(execution, models.ExecutionStatusRunning); err != nil {
		return err
	}

	now := time.Now().UTC()
	if execution.StartedAt == nil {
		execution.StartedAt = &now
	}

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	if fresh {
		logger.InfoContext(ctx, "Execution started", "total_steps", execution.TotalSteps)
		c.appendLog(ctx, execution, nil, models.LogLevelInfo, "execution started", map[string]any{
			"total_steps": execution.TotalSteps,
		})
		c.publish(ctx, execution, events.ExecutionStarted{
			BaseEvent:  c.baseEvent(events.ExecutionStartedEvent, execution),
			TotalSteps: execution.TotalSteps,
		})
	}

	return nil
}

//nolint:cyclop // The step loop mirrors the execution state machine.
func (c *Coordinator) runSteps(
	ctx context.Context,
	execution *models.WorkflowExecution,
	logger *slog.Logger,
	span trace.Span,
) error {
	for execution.CurrentStep < execution.TotalSteps {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-execution; the job stays claimed and will be
			// redelivered to another worker.
			return queue.Redeliver(time.Now().UTC().Add(queue.DefaultRedeliverDelay))
		}

		step := execution.CurrentStepDef()
		if step == nil {
			break
		}

		stepLogger := logger.With("step_uid", step.UID, "step_order", step.StepOrder)

		proceed, err := c.conditions.Evaluate(step.Condition, execution)
		if err != nil {
			// A broken condition cannot heal on retry.
			outcome := &runner.StepOutcome{
				Status:     models.StepStatusFailed,
				Err:        err,
				Retryable:  false,
				StartedAt:  time.Now().UTC(),
				FinishedAt: time.Now().UTC(),
			}

			return c.handleStepFailure(ctx, execution, step, outcome, stepLogger)
		}

		if !proceed {
			if err := c.skipStep(ctx, execution, step, stepLogger); err != nil {
				return err
			}

			continue
		}

		outcome := c.runner.RunStep(ctx, execution, step)

		if outcome.Status == models.StepStatusSucceeded {
			if err := c.completeStep(ctx, execution, step, outcome, stepLogger); err != nil {
				return err
			}

			continue
		}

		return c.handleStepFailure(ctx, execution, step, outcome, stepLogger)
	}

	return c.finalize(ctx, execution, logger, span)
}

func (c *Coordinator) skipStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	logger *slog.Logger,
) error {
	now := time.Now().UTC()

	execution.AppendStepResult(models.StepResult{
		StepOrder:  step.StepOrder,
		StepUID:    step.UID,
		Attempt:    execution.Retry.AttemptCount + 1,
		Status:     models.StepStatusSkipped,
		StartedAt:  now,
		FinishedAt: now,
	})

	c.advance(execution)

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Step skipped", "condition", step.Condition)
	c.appendLog(ctx, execution, &step.StepOrder, models.LogLevelInfo, "step skipped", map[string]any{
		"condition": step.Condition,
	})
	c.publish(ctx, execution, events.ExecutionStepSkipped{
		BaseEvent: c.baseEvent(events.ExecutionStepSkippedEvent, execution),
		StepOrder: step.StepOrder,
		StepUID:   step.UID,
		Condition: step.Condition,
	})

	return nil
}

func (c *Coordinator) completeStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	outcome *runner.StepOutcome,
	logger *slog.Logger,
) error {
	attempt := execution.Retry.AttemptCount + 1

	execution.AppendStepResult(models.StepResult{
		StepOrder:  step.StepOrder,
		StepUID:    step.UID,
		Attempt:    attempt,
		Status:     models.StepStatusSucceeded,
		Output:     outcome.Output,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
	})

	execution.CompletedSteps++
	c.advance(execution)

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Step completed", "attempt", attempt, "duration_ms", outcome.Duration().Milliseconds())
	c.appendLog(ctx, execution, &step.StepOrder, models.LogLevelInfo, "step completed", map[string]any{
		"attempt":     attempt,
		"duration_ms": outcome.Duration().Milliseconds(),
	})
	c.publish(ctx, execution, events.ExecutionStepCompleted{
		BaseEvent:  c.baseEvent(events.ExecutionStepCompletedEvent, execution),
		StepOrder:  step.StepOrder,
		StepUID:    step.UID,
		Attempt:    attempt,
		Output:     outcome.Output,
		DurationMs: outcome.Duration().Milliseconds(),
	})

	return nil
}

func (c *Coordinator) handleStepFailure(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	outcome *runner.StepOutcome,
	logger *slog.Logger,
) error {
	execution.Retry.AttemptCount++
	attempt := execution.Retry.AttemptCount

	execution.AppendStepResult(models.StepResult{
		StepOrder:  step.StepOrder,
		StepUID:    step.UID,
		Attempt:    attempt,
		Status:     models.StepStatusFailed,
		Error:      outcome.ErrorMessage(),
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
	})

	logger.WarnContext(ctx, "Step failed",
		"attempt", attempt,
		"retryable", outcome.Retryable,
		"error", outcome.ErrorMessage(),
	)

	c.publish(ctx, execution, events.ExecutionStepFailed{
		BaseEvent:  c.baseEvent(events.ExecutionStepFailedEvent, execution),
		StepOrder:  step.StepOrder,
		StepUID:    step.UID,
		Attempt:    attempt,
		Error:      outcome.ErrorMessage(),
		Retryable:  outcome.Retryable,
		DurationMs: outcome.Duration().Milliseconds(),
	})

	now := time.Now().UTC()
	policy := retry.FromConfig(step.Retry)
	decision := policy.Decide(execution.Retry, outcome.Retryable, now)

	if decision.Retry {
		return c.scheduleRetry(ctx, execution, step, decision, logger)
	}

	return c.failExecution(ctx, execution, step, outcome, logger)
}

func (c *Coordinator) scheduleRetry(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	decision retry.Decision,
	logger *slog.Logger,
) error {
	if err := c.transition(execution, models.ExecutionStatusRetrying); err != nil {
		return err
	}

	retryAfter := decision.After
	execution.Retry.RetryAfter = &retryAfter

	// Persist the fresh job id before the delayed job exists; the retry
	// delivery would otherwise race this write and be dropped as stale.
	previousJobID := execution.QueueJobID
	execution.QueueJobID = queue.NewJobID()

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	if err := c.queue.EnqueueDelayed(ctx, execution.QueueJobID, execution.ID, retryAfter); err != nil {
		// Restore the delivered job's id so the default redelivery of the
		// current job still matches and re-attempts the enqueue.
		execution.QueueJobID = previousJobID
		if persistErr := c.persist(ctx, execution); persistErr != nil {
			return fmt.Errorf("failed to restore job id after enqueue error: %w", persistErr)
		}

		return fmt.Errorf("failed to enqueue retry: %w", err)
	}

	logger.InfoContext(ctx, "Retry scheduled",
		"attempt_count", execution.Retry.AttemptCount,
		"max_attempts", execution.Retry.MaxAttempts,
		"retry_after", retryAfter,
	)
	c.appendLog(ctx, execution, &step.StepOrder, models.LogLevelWarn, "retry scheduled", map[string]any{
		"attempt_count": execution.Retry.AttemptCount,
		"max_attempts":  execution.Retry.MaxAttempts,
		"retry_after":   retryAfter,
	})
	c.publish(ctx, execution, events.ExecutionRetrying{
		BaseEvent:    c.baseEvent(events.ExecutionRetryingEvent, execution),
		StepOrder:    step.StepOrder,
		AttemptCount: execution.Retry.AttemptCount,
		MaxAttempts:  execution.Retry.MaxAttempts,
		RetryAfter:   retryAfter,
	})

	return nil
}

func (c *Coordinator) failExecution(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	outcome *runner.StepOutcome,
	logger *slog.Logger,
) error {
	execution.FailedSteps++

	if err := c.transition(execution, models.ExecutionStatusFailed); err != nil {
		return err
	}

	execution.Error = outcome.ErrorMessage()
	c.finish(execution)

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	logger.ErrorContext(ctx, "Execution failed",
		"step_order", step.StepOrder,
		"error", execution.Error,
		"duration_ms", execution.ExecutionTimeMS,
	)
	c.appendLog(ctx, execution, &step.StepOrder, models.LogLevelError, "execution failed", map[string]any{
		"error": execution.Error,
	})
	c.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent:  c.baseEvent(events.ExecutionFailedEvent, execution),
		Status:     string(execution.Status),
		DurationMs: execution.ExecutionTimeMS,
		StepOrder:  step.StepOrder,
		Error:      execution.Error,
	})

	return nil
}

func (c *Coordinator) finalize(
	ctx context.Context,
	execution *models.WorkflowExecution,
	logger *slog.Logger,
	span trace.Span,
) error {
	if err := c.transition(execution, models.ExecutionStatusCompleted); err != nil {
		return err
	}

	execution.Result = execution.ResultsByUID()
	c.finish(execution)

	if err := c.persist(ctx, execution); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Execution completed",
		"completed_steps", execution.CompletedSteps,
		"duration_ms", execution.ExecutionTimeMS,
	)
	c.appendLog(ctx, execution, nil, models.LogLevelInfo, "execution completed", map[string]any{
		"completed_steps": execution.CompletedSteps,
		"duration_ms":     execution.ExecutionTimeMS,
	})
	c.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent:      c.baseEvent(events.ExecutionCompletedEvent, execution),
		Status:         string(execution.Status),
		DurationMs:     execution.ExecutionTimeMS,
		CompletedSteps: execution.CompletedSteps,
		Result:         execution.Result,
	})

	otelhelper.SetOK(span, "execution completed")

	return nil
}

// advance moves the cursor to the next step and resets the retry budget
// for it.
func (c *Coordinator) advance(execution *models.WorkflowExecution) {
	execution.CurrentStep++

	next := execution.CurrentStepDef()
	execution.Retry.Reset(maxAttemptsFor(next))
}

func (c *Coordinator) finish(execution *models.WorkflowExecution) {
	now := time.Now().UTC()
	execution.FinishedAt = &now

	if execution.StartedAt != nil {
		execution.ExecutionTimeMS = now.Sub(*execution.StartedAt).Milliseconds()
	}
}

func (c *Coordinator) transition(execution *models.WorkflowExecution, next models.ExecutionStatus) error {
	if !execution.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s to %s: %w", execution.Status, next, ErrIllegalTransition)
	}

	execution.Status = next

	return nil
}

// persist writes the execution through the version guard. A conflict means
// a control operation raced us; the persisted state wins and this delivery
// either stops or retries depending on what it finds.
func (c *Coordinator) persist(ctx context.Context, execution *models.WorkflowExecution) error {
	if !execution.CheckCounters() {
		panic(fmt.Sprintf(
			"execution %s counters corrupted: current=%d completed=%d failed=%d total=%d",
			execution.ID, execution.CurrentStep, execution.CompletedSteps,
			execution.FailedSteps, execution.TotalSteps,
		))
	}

	execution.UpdatedAt = time.Now().UTC()

	err := c.persistence.ExecutionRepository().UpdateExecution(ctx, execution)
	if err == nil {
		return nil
	}

	if !persistence.IsVersionConflict(err) {
		return fmt.Errorf("failed to persist execution: %w", err)
	}

	stored, loadErr := c.persistence.ExecutionRepository().ExecutionByID(ctx, execution.ID)
	if loadErr != nil {
		return fmt.Errorf("failed to reload execution after conflict: %w", loadErr)
	}

	if stored.Status.IsTerminal() || stored.Status == models.ExecutionStatusPaused {
		c.logger.InfoContext(ctx, "Yielding to control operation",
			"execution_id", execution.ID,
			"status", stored.Status,
		)

		return errStopDelivery
	}

	return fmt.Errorf("failed to persist execution: %w", err)
}

// errStopDelivery aborts the step loop without redelivery after a control
// operation took over the execution.
var errStopDelivery = errors.New("delivery superseded by control operation")

func (c *Coordinator) baseEvent(eventType events.EventType, execution *models.WorkflowExecution) events.BaseEvent {
	base := events.NewBaseEvent(eventType, execution.WorkflowID, execution.ID)
	base.WorkerID = c.workerID

	return base
}

func (c *Coordinator) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if c.eventBus == nil {
		return
	}

	err := c.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"execution_id", execution.ID,
			"error", err,
		)
	}
}

func (c *Coordinator) appendLog(
	ctx context.Context,
	execution *models.WorkflowExecution,
	stepOrder *int,
	level models.LogLevel,
	message string,
	data map[string]any,
) {
	entry := &models.ExecutionLog{
		ExecutionID: execution.ID,
		StepOrder:   stepOrder,
		Level:       level,
		Message:     message,
		Data:        data,
	}

	err := c.persistence.LogRepository().AppendLog(ctx, entry)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to append execution log",
			"execution_id", execution.ID,
			"error", err,
		)
	}
}

func maxAttemptsFor(step *models.WorkflowStep) int {
	if step == nil || step.Retry == nil {
		return 0
	}

	return step.Retry.MaxAttempts
}
