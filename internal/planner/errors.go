package planner

import (
	"errors"
	"fmt"
)

// ErrEmptyPlan is wrapped by a PlanValidationError when the oracle proposes no steps.
var ErrEmptyPlan = errors.New("plan has no steps")

// PlanValidationError rejects a whole plan (or a repaired call) because of one step.
// StepIndex is -1 when the problem is not tied to a step.
type PlanValidationError struct {
	StepIndex int
	ToolName  string
	Reason    string
	Err       error
}

func (e *PlanValidationError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: step %d (%s): %s", e.StepIndex, e.ToolName, e.Reason)
}

func (e *PlanValidationError) Unwrap() error { return e.Err }

// PlanLimitError rejects a plan that is longer than the configured step cap. Every step may
// still be valid on its own.
type PlanLimitError struct {
	Steps int
	Limit int
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("plan has %d steps, limit is %d", e.Steps, e.Limit)
}

// PlanningOracleError wraps a failure of the planning oracle itself.
type PlanningOracleError struct {
	Op  string
	Err error
}

func (e *PlanningOracleError) Error() string {
	return fmt.Sprintf("planning oracle %s: %v", e.Op, e.Err)
}

func (e *PlanningOracleError) Unwrap() error { return e.Err }
