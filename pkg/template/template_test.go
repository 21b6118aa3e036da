package template

import (
	"testing"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecution() *models.WorkflowExecution {
	execution := &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Params:     map[string]any{"user_id": "u-42", "page_size": 25},
	}
	execution.AppendStepResult(models.StepResult{
		StepUID: "lookup",
		Status:  models.StepStatusSucceeded,
		Output:  map[string]any{"status_code": 200, "body": map[string]any{"token": "abc123"}},
	})

	return execution
}

func TestRender_PlainStringPassthrough(t *testing.T) {
	result, err := Render("/users/all", nil)
	require.NoError(t, err)
	assert.Equal(t, "/users/all", result)
}

func TestRenderWithExecution(t *testing.T) {
	execution := testExecution()

	result, err := RenderWithExecution("{{ .params.user_id }}", execution)
	require.NoError(t, err)
	assert.Equal(t, "u-42", result)

	result, err = RenderWithExecution("{{ .steps.lookup.output.body.token }}", execution)
	require.NoError(t, err)
	assert.Equal(t, "abc123", result)

	// Numeric results come back as numbers.
	result, err = RenderWithExecution("{{ .params.page_size }}", execution)
	require.NoError(t, err)
	assert.InEpsilon(t, 25.0, result, 0.0001)

	result, err = RenderWithExecution("{{ .execution.id }}", execution)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", result)
}

func TestRenderWithExecution_MissingKey(t *testing.T) {
	_, err := RenderWithExecution("{{ .params.unknown }}", testExecution())
	require.Error(t, err)
}

func TestRenderString(t *testing.T) {
	path, err := RenderString("/users/{{ .params.user_id }}/orders", testExecution())
	require.NoError(t, err)
	assert.Equal(t, "/users/u-42/orders", path)
}

func TestRenderParameters(t *testing.T) {
	execution := testExecution()

	params, err := RenderParameters(map[string]any{
		"token":  "{{ .steps.lookup.output.body.token }}",
		"static": "unchanged",
		"count":  3,
		"nested": map[string]any{
			"user": "{{ .params.user_id }}",
		},
		"list": []any{"{{ .params.user_id }}", "literal"},
	}, execution)
	require.NoError(t, err)

	assert.Equal(t, "abc123", params["token"])
	assert.Equal(t, "unchanged", params["static"])
	assert.Equal(t, 3, params["count"])

	nested, ok := params["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-42", nested["user"])

	list, ok := params["list"].([]any)
	require.True(t, ok)
	assert.Equal(t, "u-42", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestRenderParameters_Nil(t *testing.T) {
	params, err := RenderParameters(nil, testExecution())
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestRender_JSONResult(t *testing.T) {
	result, err := Render(`{"ids": [1, 2, 3]}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "{\"ids\": [1, 2, 3]}", result)

	rendered, err := RenderWithExecution(`{{ .steps.lookup.output.body | json }}`, testExecution())
	require.NoError(t, err)

	obj, ok := rendered.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc123", obj["token"])
}
