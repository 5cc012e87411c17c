// Package executor walks a validated plan one step at a time, repairing failed steps of
// repairable tools through the planning oracle.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// DefaultMaxAttempts is the total number of attempts a repairable step gets.
const DefaultMaxAttempts = 3

// StepState is a position in the per-step state machine.
type StepState string

const (
	StatePending   StepState = "PENDING"
	StateRunning   StepState = "RUNNING"
	StateSucceeded StepState = "SUCCEEDED"
	StateFailed    StepState = "FAILED"
	StateRepairing StepState = "REPAIRING"
)

// Outcome aggregates the terminal states of all steps.
type Outcome string

const (
	OutcomeAllSucceeded   Outcome = "all_succeeded"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeRequiredFailed Outcome = "required_failed"
	OutcomeAborted        Outcome = "aborted"
)

// Repairer produces a corrected call for a failed step.
type Repairer interface {
	Repair(ctx context.Context, query string, failed models.ToolCall, cause models.ObservationError, attempt int) (models.ToolCall, error)
}

// Request is one plan execution.
type Request struct {
	// RunID keys the journal; the orchestrator passes the trace id.
	RunID    string
	Query    string
	Plan     models.Plan
	Notebook models.NotebookContext
	// OnObservation is called synchronously after every attempt, before the next one starts.
	OnObservation func(models.Observation)
}

// StepResult is the terminal state of one plan step.
type StepResult struct {
	StepIndex int
	ToolName  string
	Required  bool
	State     StepState
	Attempts  int
	// Err is nil for SUCCEEDED steps.
	Err error
}

// Result is the executor output: every attempt in order plus the aggregate outcome.
type Result struct {
	Observations []models.Observation
	Steps        []StepResult
	Outcome      Outcome
}

// FailedSteps returns the steps that ended FAILED.
func (r Result) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.State == StateFailed {
			out = append(out, s)
		}
	}
	return out
}

// Executor runs plans sequentially.
type Executor struct {
	registry    *tool.Registry
	repairer    Repairer
	journal     StepJournal
	metrics     Metrics
	logger      *zap.Logger
	maxAttempts int
	stepTimeout time.Duration
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithRepairer sets the component asked for corrected calls.
func WithRepairer(r Repairer) Option {
	return func(ex *Executor) {
		ex.repairer = r
	}
}

// WithJournal sets the step journal implementation.
func WithJournal(j StepJournal) Option {
	return func(ex *Executor) {
		if j != nil {
			ex.journal = j
		}
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) {
		if l != nil {
			ex.logger = l
		}
	}
}

// WithMaxAttempts sets the total attempts per repairable step. Values below one are ignored.
func WithMaxAttempts(n int) Option {
	return func(ex *Executor) {
		if n >= 1 {
			ex.maxAttempts = n
		}
	}
}

// WithStepTimeout bounds each attempt. Zero leaves attempts bounded only by the run context.
func WithStepTimeout(d time.Duration) Option {
	return func(ex *Executor) {
		ex.stepTimeout = d
	}
}

var executorTracer trace.Tracer = otel.Tracer("knowledge-atlas/internal/executor")

// New creates a new Executor instance.
func New(registry *tool.Registry, opts ...Option) *Executor {
	ex := &Executor{
		registry:    registry,
		journal:     NewNoopJournal(),
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// MaxAttempts returns the configured attempt bound.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Execute runs every step of req.Plan in order. A failed step that is not required does not
// stop the plan. The returned error is a *RequiredStepError when a required step failed, a
// *RepairError wrapping *planner.PlanningOracleError when the oracle could not be reached for
// a repair, and wraps the context error when the run was cancelled. Result is populated in
// every case.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	ctx, span := executorTracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("run.id", req.RunID),
		attribute.Int("plan.steps", req.Plan.Len()),
	))
	defer span.End()

	if err := e.journal.StartRun(ctx, req.RunID, req.Plan); err != nil {
		e.logger.Warn("journal start failed", zap.String("run_id", req.RunID), zap.Error(err))
	}

	res := Result{Outcome: OutcomeAllSucceeded}
	emit := func(obs models.Observation) {
		res.Observations = append(res.Observations, obs)
		if req.OnObservation != nil {
			req.OnObservation(models.CloneObservation(obs))
		}
		if err := e.journal.RecordAttempt(ctx, req.RunID, obs); err != nil {
			e.logger.Warn("journal append failed",
				zap.String("run_id", req.RunID),
				zap.Int("step", obs.StepIndex),
				zap.Error(err))
		}
		if e.metrics.Attempt != nil {
			e.metrics.Attempt(ctx, obs)
		}
	}

	var runErr error
	for _, call := range req.Plan.Calls {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeAborted
			runErr = fmt.Errorf("run cancelled before step %d: %w", call.StepIndex, err)
			break
		}
		step := e.runStep(ctx, req, models.CloneToolCall(call), emit)
		res.Steps = append(res.Steps, step)

		if ctx.Err() != nil {
			res.Outcome = OutcomeAborted
			runErr = fmt.Errorf("run cancelled during step %d: %w", call.StepIndex, ctx.Err())
			break
		}
		if step.State != StateFailed {
			continue
		}
		var oracleErr *planner.PlanningOracleError
		if errors.As(step.Err, &oracleErr) {
			res.Outcome = OutcomeAborted
			runErr = step.Err
			e.logger.Warn("planning oracle failed during repair; stopping run",
				zap.String("run_id", req.RunID),
				zap.Int("step", step.StepIndex),
				zap.Error(step.Err))
			break
		}
		if call.Required {
			res.Outcome = OutcomeRequiredFailed
			runErr = &RequiredStepError{StepIndex: step.StepIndex, ToolName: step.ToolName, Err: step.Err}
			e.logger.Info("required step failed; stopping run",
				zap.String("run_id", req.RunID),
				zap.Int("step", step.StepIndex),
				zap.Error(step.Err))
			break
		}
		res.Outcome = OutcomePartialFailure
	}

	if err := e.journal.FinishRun(context.WithoutCancel(ctx), req.RunID, res.Outcome); err != nil {
		e.logger.Warn("journal finish failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
	if e.metrics.Outcome != nil {
		e.metrics.Outcome(ctx, res.Outcome)
	}
	span.SetAttributes(attribute.String("plan.outcome", string(res.Outcome)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return res, runErr
}

// runStep drives one step through RUNNING, REPAIRING and its terminal state.
func (e *Executor) runStep(ctx context.Context, req Request, call models.ToolCall, emit func(models.Observation)) StepResult {
	step := StepResult{StepIndex: call.StepIndex, ToolName: call.ToolName, Required: call.Required, State: StatePending}
	logger := e.logger.With(zap.String("run_id", req.RunID), zap.Int("step", call.StepIndex), zap.String("tool", call.ToolName))

	t, ok := e.registry.Get(call.ToolName)
	if !ok {
		obs := models.Observation{
			StepIndex:    call.StepIndex,
			ToolName:     call.ToolName,
			Arguments:    models.CloneArguments(call.Arguments),
			Status:       models.StepFailed,
			Error:        &models.ObservationError{Kind: models.ErrorKindUnknownTool, Message: fmt.Sprintf("tool %q is not registered", call.ToolName)},
			AttemptCount: 1,
			StartedAt:    time.Now().UTC(),
		}
		emit(obs)
		step.State, step.Attempts = StateFailed, 1
		step.Err = fmt.Errorf("%w: %s", tool.ErrUnknownTool, call.ToolName)
		return step
	}
	repairable := t.Definition().Repairable && e.repairer != nil

	for attempt := 1; ; attempt++ {
		step.State = StateRunning
		step.Attempts = attempt
		obs := e.attempt(ctx, t, call, req.Notebook, attempt)
		emit(obs)

		if obs.Succeeded() {
			step.State, step.Err = StateSucceeded, nil
			return step
		}
		step.State = StateFailed
		step.Err = observationErr(call, obs)
		if ctx.Err() != nil {
			return step
		}
		if !repairable {
			logger.Debug("step failed", zap.String("kind", obs.Error.Kind), zap.String("error", obs.Error.Message))
			return step
		}
		if attempt >= e.maxAttempts {
			step.Err = &RepairExhaustedError{StepIndex: call.StepIndex, ToolName: call.ToolName, Attempts: attempt, Last: *obs.Error}
			logger.Info("repairs exhausted", zap.Int("attempts", attempt))
			return step
		}

		step.State = StateRepairing
		fixed, err := e.repairer.Repair(ctx, req.Query, call, *obs.Error, attempt)
		if err != nil {
			step.State = StateFailed
			step.Err = &RepairError{StepIndex: call.StepIndex, ToolName: call.ToolName, Attempt: attempt, Err: err}
			logger.Warn("repair failed", zap.Int("attempt", attempt), zap.Error(err))
			return step
		}
		if e.metrics.Repair != nil {
			e.metrics.Repair(ctx, fixed, attempt+1)
		}
		fixed.StepIndex = call.StepIndex
		call = fixed
	}
}

type invocation struct {
	result models.ToolResult
	err    error
}

// attempt runs one RUNNING transition and records it as an observation.
func (e *Executor) attempt(ctx context.Context, t tool.Tool, call models.ToolCall, nb models.NotebookContext, attempt int) models.Observation {
	stepCtx, span := executorTracer.Start(ctx, "executor.attempt", trace.WithAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.Int("step.index", call.StepIndex),
		attribute.Int("step.attempt", attempt),
	))
	defer span.End()

	cancel := func() {}
	if e.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(stepCtx, e.stepTimeout)
	}
	defer cancel()

	obs := models.Observation{
		StepIndex:    call.StepIndex,
		ToolName:     call.ToolName,
		Arguments:    models.CloneArguments(call.Arguments),
		AttemptCount: attempt,
		StartedAt:    time.Now().UTC(),
	}

	done := make(chan invocation, 1)
	go func() {
		var inv invocation
		defer func() {
			if r := recover(); r != nil {
				inv = invocation{err: &panicError{value: r}}
			}
			done <- inv
		}()
		inv.result, inv.err = t.Execute(stepCtx, models.CloneArguments(call.Arguments), nb)
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-stepCtx.Done():
		inv = invocation{err: stepCtx.Err()}
	}
	obs.Duration = time.Since(obs.StartedAt)
	if e.metrics.Duration != nil {
		e.metrics.Duration(ctx, call, obs.Duration)
	}

	if inv.err == nil {
		result := inv.result
		obs.Status = models.StepSucceeded
		obs.Result = &result
		return obs
	}
	obs.Status = models.StepFailed
	obs.Error = describeFailure(ctx, call.ToolName, inv.err)
	span.RecordError(inv.err)
	span.SetStatus(codes.Error, obs.Error.Message)
	return obs
}

// describeFailure maps an attempt error onto the structured observation error.
func describeFailure(runCtx context.Context, toolName string, err error) *models.ObservationError {
	var pe *panicError
	var ee *tool.ExecutionError
	switch {
	case errors.As(err, &pe):
		return &models.ObservationError{Kind: models.ErrorKindPanic, Message: pe.Error()}
	case runCtx.Err() != nil:
		return &models.ObservationError{Kind: models.ErrorKindCanceled, Message: runCtx.Err().Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &models.ObservationError{Kind: models.ErrorKindTimeout, Message: fmt.Sprintf("%s did not finish before the step deadline", toolName)}
	case errors.As(err, &ee):
		kind := ee.Kind
		if kind == "" {
			kind = models.ErrorKindTool
		}
		msg := ee.Message
		if msg == "" && ee.Err != nil {
			msg = ee.Err.Error()
		}
		return &models.ObservationError{Kind: kind, Message: msg, Details: models.CloneArguments(ee.Details)}
	default:
		return &models.ObservationError{Kind: models.ErrorKindTool, Message: err.Error()}
	}
}

func observationErr(call models.ToolCall, obs models.Observation) error {
	return &tool.ExecutionError{
		Tool:    call.ToolName,
		Kind:    obs.Error.Kind,
		Message: obs.Error.Message,
		Details: obs.Error.Details,
	}
}
