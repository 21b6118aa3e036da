package services

import (
	"testing"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflowsService(t *testing.T) (*Workflows, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))

	return NewWorkflows(p), p
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:  "Order sync",
		Owner: "tests",
		Steps: []*models.WorkflowStep{
			{
				StepOrder:    1,
				UID:          "fetch",
				Name:         "Fetch orders",
				ConnectionID: "conn-1",
				Method:       "GET",
				Path:         "/orders",
			},
		},
	}
}

func TestWorkflows_CreateDefaultsToDraft(t *testing.T) {
	service, _ := newWorkflowsService(t)

	created, err := service.Create(t.Context(), validWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestWorkflows_Create_Nil(t *testing.T) {
	service, _ := newWorkflowsService(t)

	_, err := service.Create(t.Context(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNil)
}

func TestWorkflows_Create_InvalidName(t *testing.T) {
	service, _ := newWorkflowsService(t)

	workflow := validWorkflow()
	workflow.Name = "ab"

	_, err := service.Create(t.Context(), workflow)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestWorkflows_Create_DuplicateStepOrder(t *testing.T) {
	service, _ := newWorkflowsService(t)

	workflow := validWorkflow()
	duplicate := *workflow.Steps[0]
	duplicate.UID = "fetch2"
	workflow.Steps = append(workflow.Steps, &duplicate)

	_, err := service.Create(t.Context(), workflow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateStepOrder)
}

func TestWorkflows_Update(t *testing.T) {
	service, _ := newWorkflowsService(t)

	created, err := service.Create(t.Context(), validWorkflow())
	require.NoError(t, err)

	replacement := validWorkflow()
	replacement.Description = "updated"

	updated, err := service.Update(t.Context(), created.ID, replacement)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "updated", updated.Description)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, models.WorkflowStatusDraft, updated.Status)
}

func TestWorkflows_Update_Missing(t *testing.T) {
	service, _ := newWorkflowsService(t)

	_, err := service.Update(t.Context(), "missing", validWorkflow())
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflows_ActivateAndArchive(t *testing.T) {
	service, _ := newWorkflowsService(t)

	created, err := service.Create(t.Context(), validWorkflow())
	require.NoError(t, err)

	activated, err := service.Activate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	archived, err := service.Archive(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, archived.Status)
}

func TestWorkflows_Activate_NoSteps(t *testing.T) {
	service, p := newWorkflowsService(t)

	workflow := &models.Workflow{Name: "Empty", Status: models.WorkflowStatusDraft}
	require.NoError(t, p.WorkflowRepository().SaveWorkflow(t.Context(), workflow))

	_, err := service.Activate(t.Context(), workflow.ID)
	assert.ErrorIs(t, err, ErrWorkflowNoSteps)
}

func TestWorkflows_Delete(t *testing.T) {
	service, _ := newWorkflowsService(t)

	created, err := service.Create(t.Context(), validWorkflow())
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflows_List(t *testing.T) {
	service, _ := newWorkflowsService(t)

	_, err := service.Create(t.Context(), validWorkflow())
	require.NoError(t, err)

	second := validWorkflow()
	second.Name = "Inventory sync"
	_, err = service.Create(t.Context(), second)
	require.NoError(t, err)

	workflows, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, workflows, 2)
}

func TestWorkflows_HealthCheck(t *testing.T) {
	service, _ := newWorkflowsService(t)

	message, healthy := service.HealthCheck(t.Context())
	assert.True(t, healthy)
	assert.NotEmpty(t, message)
}
