// Package services implements the control operations exposed by the API:
// workflow management and execution submit, pause, resume and cancel.
package services

import (
	"errors"
	"fmt"

	"github.com/fluxway/fluxway/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrWorkflowNil        = errors.New("workflow cannot be nil")
	ErrWorkflowNoSteps    = errors.New("workflow must have at least one step")
	ErrDuplicateStepOrder = errors.New("workflow steps must have unique step orders")

	// State conflicts (409 Conflict).
	ErrWorkflowNotActive  = errors.New("workflow is not active")
	ErrInvalidState       = errors.New("operation not allowed in current execution state")
	ErrExecutionTerminal  = errors.New("execution already reached a terminal state")
	ErrExecutionNotPaused = errors.New("execution is not paused")

	// Not found (404), re-exported so handlers depend on one package.
	ErrWorkflowNotFound  = persistence.ErrWorkflowNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNoSteps) ||
		errors.Is(err, ErrDuplicateStepOrder)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotActive) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrExecutionTerminal) ||
		errors.Is(err, ErrExecutionNotPaused)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrConnectionNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
