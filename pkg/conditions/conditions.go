// Package conditions evaluates step guard expressions against execution state.
package conditions

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fluxway/fluxway/pkg/models"
)

// Evaluator compiles and caches condition expressions. Workflows reuse
// the same small set of conditions across many executions, so compiled
// programs are kept for the lifetime of the evaluator.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		programs: make(map[string]*vm.Program),
	}
}

// Evaluate runs a step condition against the execution's accumulated
// state. An empty condition always passes. A condition that does not
// produce a boolean is an error, not a skip.
func (e *Evaluator) Evaluate(condition string, execution *models.WorkflowExecution) (bool, error) {
	if condition == "" {
		return true, nil
	}

	program, err := e.compile(condition)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}

	env := map[string]any{
		"steps":  execution.ResultsByUID(),
		"params": execution.Params,
		"execution": map[string]any{
			"id":           execution.ID,
			"workflow_id":  execution.WorkflowID,
			"current_step": execution.CurrentStep,
		},
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected bool", condition, output)
	}

	return result, nil
}

func (e *Evaluator) compile(condition string) (*vm.Program, error) {
	e.mu.RLock()
	program, exists := e.programs[condition]
	e.mu.RUnlock()

	if exists {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[condition] = program
	e.mu.Unlock()

	return program, nil
}
