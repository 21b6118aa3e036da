package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Workflows manages workflow templates.
type Workflows struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewWorkflows(persist persistence.Persistence) *Workflows {
	return &Workflows{
		persistence: persist,
		validator:   validator.New(),
		logger:      log.WithModule("services.workflows"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Workflows) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns all workflows, newest first.
func (s *Workflows) List(ctx context.Context) ([]*models.Workflow, error) {
	return s.persistence.WorkflowRepository().Workflows(ctx)
}

// FetchByID retrieves a workflow by its ID.
func (s *Workflows) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return s.persistence.WorkflowRepository().WorkflowByID(ctx, id)
}

// Create validates and stores a new workflow. New workflows start as
// drafts unless a status is given.
func (s *Workflows) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := s.validate(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.ID = ""
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := s.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces an existing workflow. In-flight executions are not
// affected; they run against the step plan snapshotted at submit.
func (s *Workflows) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := s.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == "" {
		workflow.Status = existing.Status
	}

	if err := s.validate(workflow); err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	err = s.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Activate marks a workflow executable. Only active workflows accept new
// executions.
func (s *Workflows) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return s.setStatus(ctx, workflowID, models.WorkflowStatusActive)
}

// Archive retires a workflow. Archived workflows stay readable but reject
// new executions.
func (s *Workflows) Archive(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return s.setStatus(ctx, workflowID, models.WorkflowStatusArchived)
}

// Delete soft-deletes a workflow.
func (s *Workflows) Delete(ctx context.Context, workflowID string) error {
	_, err := s.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	err = s.persistence.WorkflowRepository().DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (s *Workflows) setStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if status == models.WorkflowStatusActive && len(workflow.Steps) == 0 {
		return nil, ErrWorkflowNoSteps
	}

	workflow.Status = status
	workflow.UpdatedAt = time.Now().UTC()

	err = s.persistence.WorkflowRepository().SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	return workflow, nil
}

// validate runs struct validation, the JSON schema check and the
// step-order uniqueness rule.
func (s *Workflows) validate(workflow *models.Workflow) error {
	err := s.validator.Struct(workflow)
	if err != nil {
		return NewValidationError("validate", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	definition, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	err = models.ValidateWorkflowDefinition(definition)
	if err != nil {
		return NewValidationError("validate", "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	err = models.ValidateStepOrders(workflow.Steps)
	if err != nil {
		return NewValidationError("validate", "DUPLICATE_STEP_ORDER", err.Error(), ErrDuplicateStepOrder)
	}

	return nil
}
