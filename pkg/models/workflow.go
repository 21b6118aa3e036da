// Package models defines the core domain models for workflow execution.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow template.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow is an ordered template of steps. Executions snapshot the step list
// at submit time, so editing a workflow never affects in-flight executions.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                 validate:"required,min=3"`
	Description string          `json:"description"`
	Status      WorkflowStatus  `json:"status"               validate:"required"`
	Steps       []*WorkflowStep `json:"steps"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Owner       string          `json:"owner"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// StepsInOrder returns the workflow steps sorted by StepOrder. The stored
// order is already ascending for workflows that passed validation; this is
// the canonical accessor used when snapshotting an execution plan.
func (w *Workflow) StepsInOrder() []*WorkflowStep {
	ordered := make([]*WorkflowStep, len(w.Steps))
	copy(ordered, w.Steps)

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].StepOrder > ordered[j].StepOrder; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	return ordered
}
