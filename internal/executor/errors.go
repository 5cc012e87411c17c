package executor

import (
	"fmt"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// RepairExhaustedError is the terminal error of a repairable step that failed on every
// allowed attempt.
type RepairExhaustedError struct {
	StepIndex int
	ToolName  string
	Attempts  int
	Last      models.ObservationError
}

func (e *RepairExhaustedError) Error() string {
	return fmt.Sprintf("step %d (%s) failed after %d attempts: %s", e.StepIndex, e.ToolName, e.Attempts, e.Last.Error())
}

// RequiredStepError stops a run when a step marked required ends FAILED.
type RequiredStepError struct {
	StepIndex int
	ToolName  string
	Err       error
}

func (e *RequiredStepError) Error() string {
	return fmt.Sprintf("required step %d (%s) failed: %v", e.StepIndex, e.ToolName, e.Err)
}

func (e *RequiredStepError) Unwrap() error { return e.Err }

// RepairError wraps a failure to obtain a corrected call for a step.
type RepairError struct {
	StepIndex int
	ToolName  string
	Attempt   int
	Err       error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair of step %d (%s) after attempt %d: %v", e.StepIndex, e.ToolName, e.Attempt, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("tool panicked: %v", e.value)
}
