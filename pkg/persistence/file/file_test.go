package file

import (
	"testing"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPersistence(t *testing.T) *Persistence {
	t.Helper()

	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))

	return p
}

func testExecutionModel(id string) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         id,
		WorkflowID: "wf-1",
		Owner:      "tests",
		Status:     models.ExecutionStatusPending,
		Steps: []*models.WorkflowStep{
			{UID: "fetch", Name: "Fetch", StepOrder: 1, ConnectionID: "conn-1", Method: "GET", Path: "/items"},
		},
		TotalSteps: 1,
		Retry:      models.RetryState{MaxAttempts: models.DefaultMaxAttempts},
	}
}

func TestExecutionRepository_CreateAndGet(t *testing.T) {
	p := testPersistence(t)
	repo := p.ExecutionRepository()

	execution := testExecutionModel("exec-1")
	require.NoError(t, repo.CreateExecution(t.Context(), execution))

	assert.EqualValues(t, 1, execution.Version)
	assert.False(t, execution.CreatedAt.IsZero())

	loaded, err := repo.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
	assert.Equal(t, models.ExecutionStatusPending, loaded.Status)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "fetch", loaded.Steps[0].UID)
}

func TestExecutionRepository_CreateDuplicate(t *testing.T) {
	p := testPersistence(t)
	repo := p.ExecutionRepository()

	require.NoError(t, repo.CreateExecution(t.Context(), testExecutionModel("exec-1")))

	err := repo.CreateExecution(t.Context(), testExecutionModel("exec-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
}

func TestExecutionRepository_GetMissing(t *testing.T) {
	p := testPersistence(t)

	_, err := p.ExecutionRepository().ExecutionByID(t.Context(), "nope")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_UpdateBumpsVersion(t *testing.T) {
	p := testPersistence(t)
	repo := p.ExecutionRepository()

	execution := testExecutionModel("exec-1")
	require.NoError(t, repo.CreateExecution(t.Context(), execution))

	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.UpdateExecution(t.Context(), execution))
	assert.EqualValues(t, 2, execution.Version)

	loaded, err := repo.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	assert.EqualValues(t, 2, loaded.Version)
}

func TestExecutionRepository_UpdateVersionConflict(t *testing.T) {
	p := testPersistence(t)
	repo := p.ExecutionRepository()

	execution := testExecutionModel("exec-1")
	require.NoError(t, repo.CreateExecution(t.Context(), execution))

	// Two readers load the same version; the second writer must lose.
	first, err := repo.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)

	second, err := repo.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)

	first.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.UpdateExecution(t.Context(), first))

	second.Status = models.ExecutionStatusCancelled
	err = repo.UpdateExecution(t.Context(), second)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	loaded, err := repo.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
}

func TestExecutionRepository_ExecutionsByWorkflow(t *testing.T) {
	p := testPersistence(t)
	repo := p.ExecutionRepository()

	first := testExecutionModel("exec-1")
	require.NoError(t, repo.CreateExecution(t.Context(), first))

	other := testExecutionModel("exec-2")
	other.WorkflowID = "wf-2"
	require.NoError(t, repo.CreateExecution(t.Context(), other))

	executions, err := repo.ExecutionsByWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "exec-1", executions[0].ID)
}

func TestWorkflowRepository_SaveGeneratesID(t *testing.T) {
	p := testPersistence(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{Name: "Nightly sync", Status: models.WorkflowStatusDraft}
	require.NoError(t, repo.SaveWorkflow(t.Context(), workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := repo.WorkflowByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nightly sync", loaded.Name)
}

func TestWorkflowRepository_SoftDelete(t *testing.T) {
	p := testPersistence(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{Name: "To delete", Status: models.WorkflowStatusDraft}
	require.NoError(t, repo.SaveWorkflow(t.Context(), workflow))

	require.NoError(t, repo.DeleteWorkflow(t.Context(), workflow.ID))

	_, err := repo.WorkflowByID(t.Context(), workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	workflows, err := repo.Workflows(t.Context())
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestLogRepository_AppendAssignsSeq(t *testing.T) {
	p := testPersistence(t)
	repo := p.LogRepository()

	for _, message := range []string{"first", "second", "third"} {
		entry := &models.ExecutionLog{
			ExecutionID: "exec-1",
			Level:       models.LogLevelInfo,
			Message:     message,
		}
		require.NoError(t, repo.AppendLog(t.Context(), entry))
		require.NotEmpty(t, entry.ID)
	}

	logs, err := repo.LogsForExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, logs, 3)

	for i, entry := range logs {
		assert.EqualValues(t, i+1, entry.Seq)
	}

	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "third", logs[2].Message)
}

func TestLogRepository_EmptyExecution(t *testing.T) {
	p := testPersistence(t)

	logs, err := p.LogRepository().LogsForExecution(t.Context(), "missing")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
