package models

import "time"

// RetryConfig overrides the execution-level retry defaults for a single step.
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts"       validate:"min=1"`
	BaseDelaySeconds int `json:"base_delay_seconds" validate:"min=0"`
	MaxDelaySeconds  int `json:"max_delay_seconds"  validate:"min=0"`
}

// WorkflowStep is one unit of work, typically a single call against an API
// connection. Steps run strictly in StepOrder.
type WorkflowStep struct {
	ID             string            `json:"id"`
	StepOrder      int               `json:"step_order"      validate:"min=0"`
	UID            string            `json:"uid"             validate:"required,lowercase"`
	Name           string            `json:"name"            validate:"required"`
	ConnectionID   string            `json:"connection_id"   validate:"required"`
	Method         string            `json:"method"          validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Path           string            `json:"path"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Condition      string            `json:"condition,omitempty"` // expr predicate; empty means always run
	Retry          *RetryConfig      `json:"retry,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"min=0"`
	NonIdempotent  bool              `json:"non_idempotent"` // timeouts are not retried for non-idempotent steps
}

// Timeout returns the step timeout, falling back to the engine default.
func (s *WorkflowStep) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}

	return DefaultStepTimeout
}

// DefaultStepTimeout bounds a step's external call when the step does not
// declare its own timeout.
const DefaultStepTimeout = 30 * time.Second
