package core

import (
	"errors"
	"fmt"
)

// Stage names the part of a run that failed.
type Stage string

const (
	StageRequest    Stage = "request"
	StagePlan       Stage = "plan"
	StageExecute    Stage = "execute"
	StageSynthesize Stage = "synthesize"
)

// ErrInvalidRequest is wrapped for requests rejected before a run starts.
var ErrInvalidRequest = errors.New("invalid request")

// RunError is returned to the caller for every failed run. TraceID names the persisted
// trace explaining the failure; it is empty only for rejected requests.
type RunError struct {
	TraceID string
	Stage   Stage
	Err     error
}

func (e *RunError) Error() string {
	if e.TraceID == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed (trace %s): %v", e.Stage, e.TraceID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// TraceWriteError reports that a run's trace could not be persisted. It is surfaced as a
// warning and never replaces the answer.
type TraceWriteError struct {
	TraceID string
	Err     error
}

func (e *TraceWriteError) Error() string {
	return fmt.Sprintf("persist trace %s: %v", e.TraceID, e.Err)
}

func (e *TraceWriteError) Unwrap() error { return e.Err }
