// Package persistence provides the data storage abstraction layer for
// workflows, executions, execution logs and connections.
package persistence

import (
	"context"

	"github.com/fluxway/fluxway/pkg/models"
)

// WorkflowRepository persists workflow templates.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository persists workflow executions. UpdateExecution is the
// single mutation primitive: it succeeds only when the stored Version still
// matches execution.Version, then increments it. Racing writers lose with
// ErrVersionConflict.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error
}

// LogRepository persists append-only execution logs. Seq is assigned by the
// store, monotonic per execution.
type LogRepository interface {
	AppendLog(ctx context.Context, entry *models.ExecutionLog) error
	LogsForExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// ConnectionRepository persists API connection references.
type ConnectionRepository interface {
	ConnectionByID(ctx context.Context, id string) (*models.Connection, error)
	SaveConnection(ctx context.Context, connection *models.Connection) error
}

// ScheduleRepository persists cron schedules consumed by the scheduler
// daemon.
type ScheduleRepository interface {
	Schedules(ctx context.Context) ([]*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	DueSchedules(ctx context.Context) ([]*models.Schedule, error)
}

// Persistence aggregates the repositories backing the engine.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	LogRepository() LogRepository
	ConnectionRepository() ConnectionRepository
	ScheduleRepository() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
