// Package template renders step configuration against accumulated execution
// state before each step call.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
)

// RenderWithExecution renders input against the execution's accumulated
// step results and parameters. Prior step outputs are addressable by
// step UID under .steps.
func RenderWithExecution(input string, execution *models.WorkflowExecution) (any, error) {
	data := map[string]any{
		"steps":  execution.ResultsByUID(),
		"params": execution.Params,
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
		},
	}

	return Render(input, data)
}

func Render(templateStr string, data any) (any, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("render").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				b, err := json.Marshal(v)
				if err != nil {
					return "", err
				}

				return string(b), nil
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Rendered JSON objects and arrays come back structured.
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString renders a template that must produce a plain string, such
// as a request path.
func RenderString(templateStr string, execution *models.WorkflowExecution) (string, error) {
	rendered, err := RenderWithExecution(templateStr, execution)
	if err != nil {
		return "", err
	}

	s, ok := rendered.(string)
	if !ok {
		return fmt.Sprint(rendered), nil
	}

	return s, nil
}

// RenderParameters renders every string value in the parameter map,
// recursing into nested maps and slices.
func RenderParameters(params map[string]any, execution *models.WorkflowExecution) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}

	rendered := make(map[string]any, len(params))

	for key, value := range params {
		out, err := renderValue(value, execution)
		if err != nil {
			return nil, fmt.Errorf("failed to render parameter %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

func renderValue(value any, execution *models.WorkflowExecution) (any, error) {
	switch v := value.(type) {
	case string:
		return RenderWithExecution(v, execution)
	case map[string]any:
		return RenderParameters(v, execution)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, execution)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}
