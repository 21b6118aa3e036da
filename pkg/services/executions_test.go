package services

import (
	"testing"
	"time"

	"github.com/fluxway/fluxway/pkg/mocks"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type executionsFixture struct {
	service     *Executions
	persistence *file.Persistence
	queue       *mocks.MockQueue
	bus         *mocks.CapturingPublisher
}

func newExecutionsFixture(t *testing.T) *executionsFixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))

	mockQueue := &mocks.MockQueue{}
	bus := mocks.NewCapturingPublisher()

	return &executionsFixture{
		service:     NewExecutions(p, mockQueue, bus),
		persistence: p,
		queue:       mockQueue,
		bus:         bus,
	}
}

// expectEnqueue accepts any enqueue and checks that the execution row
// already records the job id being handed to the queue. A delivery that
// beats the recording write would be dropped as stale and strand the
// execution, so the write must come first.
func (f *executionsFixture) expectEnqueue(t *testing.T) {
	t.Helper()

	f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			stored, err := f.persistence.ExecutionRepository().ExecutionByID(t.Context(), args.String(2))
			require.NoError(t, err)
			assert.Equal(t, args.String(1), stored.QueueJobID)
		}).
		Return(nil)
}

func (f *executionsFixture) saveWorkflow(t *testing.T, status models.WorkflowStatus, steps ...*models.WorkflowStep) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		Name:   "Order sync",
		Status: status,
		Steps:  steps,
		Owner:  "tests",
	}
	require.NoError(t, f.persistence.WorkflowRepository().SaveWorkflow(t.Context(), workflow))

	return workflow
}

func workflowStep(order int, uid string) *models.WorkflowStep {
	return &models.WorkflowStep{
		StepOrder:    order,
		UID:          uid,
		Name:         uid,
		ConnectionID: "conn-1",
		Method:       "GET",
		Path:         "/" + uid,
	}
}

func TestExecutions_Submit(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	// Steps deliberately stored out of order; the snapshot must be sorted.
	workflow := f.saveWorkflow(t, models.WorkflowStatusActive,
		workflowStep(2, "store"),
		workflowStep(1, "fetch"),
	)

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", map[string]any{"region": "eu"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.NotEmpty(t, execution.QueueJobID)
	assert.Equal(t, 2, execution.TotalSteps)
	assert.Equal(t, "eu", execution.Params["region"])
	require.Len(t, execution.Steps, 2)
	assert.Equal(t, "fetch", execution.Steps[0].UID)
	assert.Equal(t, "store", execution.Steps[1].UID)
	assert.Equal(t, models.DefaultMaxAttempts, execution.Retry.MaxAttempts)

	stored, err := f.persistence.ExecutionRepository().ExecutionByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.QueueJobID, stored.QueueJobID)

	f.queue.AssertExpectations(t)
}

func TestExecutions_Submit_RecordsJobBeforeEnqueue(t *testing.T) {
	f := newExecutionsFixture(t)

	// Snapshot the stored job id at the moment the queue is called; an
	// empty value here would mean a fast delivery could race the write
	// and be dropped, leaving the execution pending forever.
	var recordedAtEnqueue string

	f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			stored, err := f.persistence.ExecutionRepository().ExecutionByID(t.Context(), args.String(2))
			require.NoError(t, err)

			recordedAtEnqueue = stored.QueueJobID
		}).
		Return(nil)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	require.NotEmpty(t, recordedAtEnqueue)
	assert.Equal(t, execution.QueueJobID, recordedAtEnqueue)
}

func TestExecutions_Submit_SnapshotIgnoresLaterEdits(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	workflow.Steps = append(workflow.Steps, workflowStep(2, "added-later"))
	require.NoError(t, f.persistence.WorkflowRepository().SaveWorkflow(t.Context(), workflow))

	stored, err := f.persistence.ExecutionRepository().ExecutionByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Steps, 1)
	assert.Equal(t, 1, stored.TotalSteps)
}

func TestExecutions_Submit_InactiveWorkflow(t *testing.T) {
	f := newExecutionsFixture(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusDraft, workflowStep(1, "fetch"))

	_, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowNotActive)
	assert.True(t, IsConflictError(err))
}

func TestExecutions_Submit_NoSteps(t *testing.T) {
	f := newExecutionsFixture(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive)

	_, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowNoSteps)
}

func TestExecutions_Submit_UnknownWorkflow(t *testing.T) {
	f := newExecutionsFixture(t)

	_, err := f.service.Submit(t.Context(), "missing", "tests", nil)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutions_PauseAndResume(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	paused, err := f.service.Pause(t.Context(), execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, "alex", paused.PausedBy)
	require.NotNil(t, paused.PausedAt)

	assert.Contains(t, f.bus.Types(), "execution.paused")

	resumed, err := f.service.Resume(t.Context(), execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, resumed.Status)
	assert.Equal(t, "alex", resumed.ResumedBy)
	require.NotNil(t, resumed.ResumedAt)

	// The resume runs under a fresh job id so the old delivery is stale.
	assert.NotEmpty(t, resumed.QueueJobID)
	assert.NotEqual(t, execution.QueueJobID, resumed.QueueJobID)

	assert.Contains(t, f.bus.Types(), "execution.resumed")
	f.queue.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestExecutions_Pause_AlreadyPausedIsNoop(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	_, err = f.service.Pause(t.Context(), execution.ID, "alex")
	require.NoError(t, err)

	paused, err := f.service.Pause(t.Context(), execution.ID, "sam")
	require.NoError(t, err)

	// The original pause metadata stays; no second event is published.
	assert.Equal(t, "alex", paused.PausedBy)

	var pauseEvents int

	for _, eventType := range f.bus.Types() {
		if eventType == "execution.paused" {
			pauseEvents++
		}
	}

	assert.Equal(t, 1, pauseEvents)
}

func TestExecutions_Pause_TerminalIsConflict(t *testing.T) {
	f := newExecutionsFixture(t)

	execution := &models.WorkflowExecution{
		ID:         "exec-done",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		TotalSteps: 1,
	}
	require.NoError(t, f.persistence.ExecutionRepository().CreateExecution(t.Context(), execution))

	_, err := f.service.Pause(t.Context(), execution.ID, "alex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionTerminal)
	assert.True(t, IsConflictError(err))
}

func TestExecutions_Resume_NotPaused(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	_, err = f.service.Resume(t.Context(), execution.ID, "alex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionNotPaused)
}

func TestExecutions_Cancel(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	cancelled, err := f.service.Cancel(t.Context(), execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)

	assert.Contains(t, f.bus.Types(), "execution.cancelled")

	// Cancelling again is idempotent.
	again, err := f.service.Cancel(t.Context(), execution.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, again.Status)

	var cancelEvents int

	for _, eventType := range f.bus.Types() {
		if eventType == "execution.cancelled" {
			cancelEvents++
		}
	}

	assert.Equal(t, 1, cancelEvents)
}

func TestExecutions_Cancel_CompletedIsConflict(t *testing.T) {
	f := newExecutionsFixture(t)

	started := time.Now().UTC().Add(-time.Minute)
	execution := &models.WorkflowExecution{
		ID:         "exec-done",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		TotalSteps: 1,
		StartedAt:  &started,
	}
	require.NoError(t, f.persistence.ExecutionRepository().CreateExecution(t.Context(), execution))

	_, err := f.service.Cancel(t.Context(), execution.ID, "alex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionTerminal)
}

func TestExecutions_StatusAndLogs(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	execution, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	status, err := f.service.Status(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, status.ID)

	require.NoError(t, f.persistence.LogRepository().AppendLog(t.Context(), &models.ExecutionLog{
		ExecutionID: execution.ID,
		Level:       models.LogLevelInfo,
		Message:     "execution started",
	}))

	logs, err := f.service.Logs(t.Context(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "execution started", logs[0].Message)

	_, err = f.service.Logs(t.Context(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutions_List(t *testing.T) {
	f := newExecutionsFixture(t)
	f.expectEnqueue(t)

	workflow := f.saveWorkflow(t, models.WorkflowStatusActive, workflowStep(1, "fetch"))

	_, err := f.service.Submit(t.Context(), workflow.ID, "tests", nil)
	require.NoError(t, err)

	executions, err := f.service.List(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	_, err = f.service.List(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
