package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository handles execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , workflow_id
  , owner
  , status
  , params
  , steps
  , current_step
  , total_steps
  , completed_steps
  , failed_steps
  , attempt_count
  , max_attempts
  , retry_after
  , queue_job_id
  , queue_name
  , paused_at
  , paused_by
  , resumed_at
  , resumed_by
  , result
  , step_results
  , error
  , execution_time_ms
  , started_at
  , finished_at
  , created_at
  , updated_at
  , version
`

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	execution.Version = 1

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	paramsJSON, stepsJSON, stepResultsJSON, resultJSON, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, owner, status, params, steps,
			current_step, total_steps, completed_steps, failed_steps,
			attempt_count, max_attempts, retry_after,
			queue_job_id, queue_name,
			paused_at, paused_by, resumed_at, resumed_by,
			result, step_results, error, execution_time_ms,
			started_at, finished_at, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.Owner, execution.Status, paramsJSON, stepsJSON,
		execution.CurrentStep, execution.TotalSteps, execution.CompletedSteps, execution.FailedSteps,
		execution.Retry.AttemptCount, execution.Retry.MaxAttempts, execution.Retry.RetryAfter,
		nullString(execution.QueueJobID), nullString(execution.QueueName),
		execution.PausedAt, nullString(execution.PausedBy), execution.ResumedAt, nullString(execution.ResumedBy),
		resultJSON, stepResultsJSON, nullString(execution.Error), execution.ExecutionTimeMS,
		execution.StartedAt, execution.FinishedAt, execution.CreatedAt, execution.UpdatedAt, execution.Version,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// UpdateExecution performs a compare-and-swap write conditioned on the
// previously-read version. A zero-row update means the row changed (or was
// deleted) underneath the caller.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	_, stepsJSON, stepResultsJSON, resultJSON, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	previousVersion := execution.Version
	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_executions SET
			status = $1,
			steps = $2,
			current_step = $3,
			total_steps = $4,
			completed_steps = $5,
			failed_steps = $6,
			attempt_count = $7,
			max_attempts = $8,
			retry_after = $9,
			queue_job_id = $10,
			queue_name = $11,
			paused_at = $12,
			paused_by = $13,
			resumed_at = $14,
			resumed_by = $15,
			result = $16,
			step_results = $17,
			error = $18,
			execution_time_ms = $19,
			started_at = $20,
			finished_at = $21,
			updated_at = $22,
			version = version + 1
		WHERE id = $23 AND version = $24
	`

	tag, err := r.db.ExecContext(ctx, query,
		execution.Status, stepsJSON,
		execution.CurrentStep, execution.TotalSteps, execution.CompletedSteps, execution.FailedSteps,
		execution.Retry.AttemptCount, execution.Retry.MaxAttempts, execution.Retry.RetryAfter,
		nullString(execution.QueueJobID), nullString(execution.QueueName),
		execution.PausedAt, nullString(execution.PausedBy), execution.ResumedAt, nullString(execution.ResumedBy),
		resultJSON, stepResultsJSON, nullString(execution.Error), execution.ExecutionTimeMS,
		execution.StartedAt, execution.FinishedAt, execution.UpdatedAt,
		execution.ID, previousVersion,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := tag.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version = previousVersion + 1

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}

	var (
		paramsJSON      []byte
		stepsJSON       []byte
		stepResultsJSON []byte
		resultJSON      []byte
		queueJobID      sql.NullString
		queueName       sql.NullString
		pausedBy        sql.NullString
		resumedBy       sql.NullString
		errMessage      sql.NullString
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.Owner, &execution.Status, &paramsJSON, &stepsJSON,
		&execution.CurrentStep, &execution.TotalSteps, &execution.CompletedSteps, &execution.FailedSteps,
		&execution.Retry.AttemptCount, &execution.Retry.MaxAttempts, &execution.Retry.RetryAfter,
		&queueJobID, &queueName,
		&execution.PausedAt, &pausedBy, &execution.ResumedAt, &resumedBy,
		&resultJSON, &stepResultsJSON, &errMessage, &execution.ExecutionTimeMS,
		&execution.StartedAt, &execution.FinishedAt, &execution.CreatedAt, &execution.UpdatedAt, &execution.Version,
	)
	if err != nil {
		return nil, err
	}

	execution.QueueJobID = queueJobID.String
	execution.QueueName = queueName.String
	execution.PausedBy = pausedBy.String
	execution.ResumedBy = resumedBy.String
	execution.Error = errMessage.String

	if len(paramsJSON) > 0 {
		err = json.Unmarshal(paramsJSON, &execution.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}

	err = json.Unmarshal(stepsJSON, &execution.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	err = json.Unmarshal(stepResultsJSON, &execution.StepResults)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
	}

	if len(resultJSON) > 0 {
		err = json.Unmarshal(resultJSON, &execution.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return execution, nil
}

func marshalExecutionJSON(execution *models.WorkflowExecution) (params, steps, stepResults, result []byte, err error) {
	if execution.Params != nil {
		params, err = json.Marshal(execution.Params)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	steps, err = json.Marshal(execution.Steps)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	if execution.StepResults == nil {
		stepResults = []byte("[]")
	} else {
		stepResults, err = json.Marshal(execution.StepResults)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal step results: %w", err)
		}
	}

	if execution.Result != nil {
		result, err = json.Marshal(execution.Result)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return params, steps, stepResults, result, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
