package runner

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluxway/fluxway/pkg/connections"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence/file"
	"github.com/fluxway/fluxway/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T, baseURL string, connectionType models.ConnectionType, credentials map[string]string) *Runner {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.ConnectionRepository().SaveConnection(t.Context(), &models.Connection{
		ID:          "conn-1",
		Name:        "Test API",
		Type:        connectionType,
		BaseURL:     baseURL,
		Credentials: credentials,
	}))

	return NewRunner(connections.NewStoreResolver(p.ConnectionRepository()))
}

func testStep() *models.WorkflowStep {
	return &models.WorkflowStep{
		StepOrder:    1,
		UID:          "fetch",
		Name:         "Fetch",
		ConnectionID: "conn-1",
		Method:       "GET",
		Path:         "/items",
	}
}

func testExecution() *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Params:     map[string]any{"user_id": "u-42"},
	}
}

func TestRunStep_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 3})
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusSucceeded, outcome.Status)
	require.NoError(t, outcome.Err)

	assert.Equal(t, http.StatusOK, outcome.Output["status_code"])

	body, ok := outcome.Output["body"].(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 3.0, body["count"], 0.0001)
}

func TestRunStep_RendersPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("user")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	step := testStep()
	step.Path = "/users/{{ .params.user_id }}"
	step.Parameters = map[string]any{"user": "{{ .params.user_id }}"}

	outcome := runner.RunStep(t.Context(), testExecution(), step)
	require.Equal(t, models.StepStatusSucceeded, outcome.Status)
	assert.Equal(t, "/users/u-42", gotPath)
	assert.Equal(t, "u-42", gotQuery)
}

func TestRunStep_PostSendsJSONBody(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	step := testStep()
	step.Method = "POST"
	step.Parameters = map[string]any{"user": "{{ .params.user_id }}", "active": true}

	outcome := runner.RunStep(t.Context(), testExecution(), step)
	require.Equal(t, models.StepStatusSucceeded, outcome.Status)
	assert.Equal(t, "u-42", gotBody["user"])
	assert.Equal(t, true, gotBody["active"])
}

func TestRunStep_AppliesConnectionAuth(t *testing.T) {
	var gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeBearer, map[string]string{"token": "secret"})

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusSucceeded, outcome.Status)
	assert.Equal(t, "Bearer secret", gotHeader)
}

func TestRunStep_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.True(t, outcome.Retryable)

	var httpErr *retry.HTTPError
	require.ErrorAs(t, outcome.Err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "upstream down")
}

func TestRunStep_ClientErrorIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such item", http.StatusNotFound)
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.False(t, outcome.Retryable)
}

func TestRunStep_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	step := testStep()
	step.TimeoutSeconds = 1

	outcome := runner.RunStep(t.Context(), testExecution(), step)
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrStepTimeout))
	assert.True(t, outcome.Retryable)
}

func TestRunStep_NonIdempotentTimeoutIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	step := testStep()
	step.Method = "POST"
	step.TimeoutSeconds = 1
	step.NonIdempotent = true

	outcome := runner.RunStep(t.Context(), testExecution(), step)
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrStepTimeout))
	assert.False(t, outcome.Retryable)
}

func TestRunStep_BadTemplateIsNotRetryable(t *testing.T) {
	runner := testRunner(t, "http://unused", models.ConnectionTypeNone, nil)

	step := testStep()
	step.Path = "/users/{{ .params.unknown }}"

	outcome := runner.RunStep(t.Context(), testExecution(), step)
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.False(t, outcome.Retryable)
}

func TestRunStep_MissingCredentialsIsNotRetryable(t *testing.T) {
	runner := testRunner(t, "http://unused", models.ConnectionTypeBearer, nil)

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusFailed, outcome.Status)
	assert.False(t, outcome.Retryable)
	assert.True(t, connections.IsCredentialUnavailable(outcome.Err))
}

func TestRunStep_NonJSONBodyReturnedAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	runner := testRunner(t, server.URL, models.ConnectionTypeNone, nil)

	outcome := runner.RunStep(t.Context(), testExecution(), testStep())
	require.Equal(t, models.StepStatusSucceeded, outcome.Status)
	assert.Equal(t, "pong", outcome.Output["body"])
}
