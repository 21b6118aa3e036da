package models

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowDefinitionSchema is the JSON Schema applied to workflow definitions
// arriving from the outer layers before they are persisted or submitted.
const workflowDefinitionSchema = `{
	"type": "object",
	"required": ["name", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["step_order", "uid", "connection_id", "method"],
				"properties": {
					"step_order": {"type": "integer", "minimum": 0},
					"uid": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
					"name": {"type": "string"},
					"connection_id": {"type": "string", "minLength": 1},
					"method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
					"path": {"type": "string"},
					"parameters": {"type": "object"},
					"headers": {"type": "object"},
					"condition": {"type": "string"},
					"timeout_seconds": {"type": "integer", "minimum": 0},
					"non_idempotent": {"type": "boolean"},
					"retry": {
						"type": "object",
						"properties": {
							"max_attempts": {"type": "integer", "minimum": 1},
							"base_delay_seconds": {"type": "integer", "minimum": 0},
							"max_delay_seconds": {"type": "integer", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

// ErrInvalidWorkflowDefinition is returned when a workflow definition fails
// schema validation.
var ErrInvalidWorkflowDefinition = errors.New("invalid workflow definition")

// ValidateWorkflowDefinition checks a raw workflow definition against the
// JSON schema and the step-order uniqueness rule.
func ValidateWorkflowDefinition(definition []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowDefinitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(definition)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate workflow definition: %w", err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("%w: %s", ErrInvalidWorkflowDefinition, detail)
	}

	return nil
}

// ValidateStepOrders checks that step orders are unique within a workflow.
func ValidateStepOrders(steps []*WorkflowStep) error {
	seen := make(map[int]string, len(steps))

	for _, step := range steps {
		if uid, dup := seen[step.StepOrder]; dup {
			return fmt.Errorf("%w: steps %q and %q share step_order %d",
				ErrInvalidWorkflowDefinition, uid, step.UID, step.StepOrder)
		}

		seen[step.StepOrder] = step.UID
	}

	return nil
}
