// Package core composes planner, executor, synthesizer and trace recorder into one
// request-scoped run.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/executor"
	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// Request is one question against one notebook.
type Request struct {
	Query    string
	Notebook models.NotebookContext
	// PriorTraceID optionally names an earlier run this query follows up on.
	PriorTraceID string
}

// Response is returned for every run that reached the planner, failed or not.
type Response struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	TraceID   string            `json:"trace_id"`
	Outcome   models.Outcome    `json:"outcome"`
	// Warnings carry non-fatal problems such as a *TraceWriteError.
	Warnings []error `json:"-"`
}

// WarningMessages renders Warnings for transport.
func (r Response) WarningMessages() []string {
	if len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

// JournalReader reads back the incremental journal of a run.
type JournalReader interface {
	Replay(ctx context.Context, runID string) (*executor.JournalReplay, error)
}

// Orchestrator coordinates the plan, execute and synthesize stages.
type Orchestrator struct {
	registry    *tool.Registry
	planner     *planner.Planner
	executor    *executor.Executor
	synthesizer *synthesis.Synthesizer
	recorder    TraceRecorder
	journal     JournalReader
	logger      *zap.Logger
	metrics     Metrics

	runTimeout     time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets run metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunTimeout bounds planning, execution and synthesis of a run. Persistence is not
// bounded by it.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

// WithJournalReader enables Recover for runs that never sealed a trace.
func WithJournalReader(j JournalReader) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides trace id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

var orchestratorTracer trace.Tracer = otel.Tracer("knowledge-atlas/internal/agent/orchestrator")

// New creates an orchestrator. All collaborators are required.
func New(registry *tool.Registry, p *planner.Planner, ex *executor.Executor, s *synthesis.Synthesizer, recorder TraceRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		planner:        p,
		executor:       ex,
		synthesizer:    s,
		recorder:       recorder,
		logger:         zap.NewNop(),
		persistTimeout: 10 * time.Second,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask runs one query end to end. Every request that passes validation leaves exactly one
// persisted trace; failures are returned as *RunError alongside a Response carrying the
// trace id.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, &RunError{Stage: StageRequest, Err: err}
	}

	traceID := o.newID()
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.Ask", trace.WithAttributes(
		attribute.String("trace.id", traceID),
		attribute.String("notebook.id", req.Notebook.NotebookID()),
	))
	defer span.End()

	logger := o.logger.With(zap.String("trace_id", traceID), zap.String("notebook_id", req.Notebook.NotebookID()))
	builder := NewTraceBuilder(traceID, req.Notebook.NotebookID(), req.Query, o.now())
	resp := Response{TraceID: traceID}

	if sum, err := o.registry.Checksum(); err == nil {
		_ = builder.SetCatalogChecksum(sum)
	} else {
		logger.Warn("catalog checksum failed", zap.Error(err))
	}

	runCtx := ctx
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	prior, warn := o.loadPrior(runCtx, req)
	if warn != nil {
		logger.Warn("prior trace ignored", zap.String("prior_trace_id", req.PriorTraceID), zap.Error(warn))
		resp.Warnings = append(resp.Warnings, warn)
	}

	// Plan.
	plan, err := o.planner.Plan(runCtx, planner.PlanInput{Query: req.Query, Notebook: req.Notebook, Prior: prior})
	if err != nil {
		logger.Info("planning failed", zap.Error(err))
		span.AddEvent("plan.failed")
		return o.finish(ctx, span, builder, resp, Completion{Outcome: models.OutcomeFailed, Err: err}, StagePlan)
	}
	_ = builder.SetPlan(plan)
	span.AddEvent("plan.complete", trace.WithAttributes(attribute.Int("plan.steps", plan.Len())))

	// Execute.
	result, execErr := o.executor.Execute(runCtx, executor.Request{
		RunID:    traceID,
		Query:    req.Query,
		Plan:     plan,
		Notebook: req.Notebook,
		OnObservation: func(obs models.Observation) {
			if err := builder.AppendObservation(obs); err != nil {
				logger.Error("observation after seal", zap.Error(err))
			}
		},
	})
	if execErr != nil {
		logger.Info("execution stopped", zap.String("outcome", string(result.Outcome)), zap.Error(execErr))
		return o.finish(ctx, span, builder, resp, Completion{Outcome: models.OutcomeFailed, Err: execErr}, StageExecute)
	}
	span.AddEvent("execute.complete", trace.WithAttributes(attribute.String("execute.outcome", string(result.Outcome))))

	// Synthesize.
	answer, err := o.synthesizer.Synthesize(runCtx, req.Query, result.Observations)
	if err != nil {
		logger.Info("synthesis failed", zap.Error(err))
		return o.finish(ctx, span, builder, resp, Completion{Outcome: models.OutcomeFailed, Err: err}, StageSynthesize)
	}

	completion := Completion{Answer: answer.Text, Citations: answer.Citations, Outcome: runOutcome(result, answer)}
	if answer.Fallback {
		completion.Err = errors.New("no tool call succeeded")
	}
	return o.finish(ctx, span, builder, resp, completion, "")
}

// finish seals and persists the trace. A non-empty stage marks a failed run.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, builder *TraceBuilder, resp Response, c Completion, stage Stage) (Response, error) {
	c.CompletedAt = o.now()
	sealed, err := builder.Seal(c)
	if err != nil {
		return resp, &RunError{TraceID: resp.TraceID, Stage: stage, Err: err}
	}

	if werr := o.persist(ctx, sealed); werr != nil {
		o.logger.Error("trace write failed", zap.String("trace_id", sealed.TraceID), zap.Error(werr))
		resp.Warnings = append(resp.Warnings, werr)
		span.AddEvent("trace.write_failed")
	}
	if o.metrics.Run != nil {
		o.metrics.Run(ctx, sealed.Outcome, sealed.Duration())
	}

	resp.Answer = sealed.FinalAnswer
	resp.Citations = sealed.Citations
	resp.Outcome = sealed.Outcome
	span.SetAttributes(
		attribute.String("run.outcome", string(sealed.Outcome)),
		attribute.Int("run.observations", len(sealed.Observations)),
		attribute.Int("run.citations", len(sealed.Citations)),
	)

	if stage != "" {
		runErr := &RunError{TraceID: sealed.TraceID, Stage: stage, Err: c.Err}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return resp, runErr
	}
	span.SetStatus(codes.Ok, "completed")
	return resp, nil
}

// persist writes the sealed trace once. It runs detached from caller cancellation so a
// client hanging up still leaves its trace behind.
func (o *Orchestrator) persist(ctx context.Context, sealed models.AgentTrace) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()
	err := o.recorder.SaveTrace(pctx, sealed)
	if o.metrics.TraceWrite != nil {
		o.metrics.TraceWrite(ctx, err)
	}
	if err != nil {
		return &TraceWriteError{TraceID: sealed.TraceID, Err: err}
	}
	return nil
}

func (o *Orchestrator) loadPrior(ctx context.Context, req Request) (*models.AgentTrace, error) {
	if req.PriorTraceID == "" {
		return nil, nil
	}
	prior, err := o.recorder.GetTrace(ctx, req.PriorTraceID)
	if err != nil {
		return nil, fmt.Errorf("load prior trace %s: %w", req.PriorTraceID, err)
	}
	if prior.NotebookID != req.Notebook.NotebookID() {
		return nil, fmt.Errorf("prior trace %s belongs to notebook %s", req.PriorTraceID, prior.NotebookID)
	}
	return &prior, nil
}

// Trace returns a persisted trace.
func (o *Orchestrator) Trace(ctx context.Context, traceID string) (models.AgentTrace, error) {
	if strings.TrimSpace(traceID) == "" {
		return models.AgentTrace{}, fmt.Errorf("%w: trace id is empty", ErrInvalidRequest)
	}
	return o.recorder.GetTrace(ctx, traceID)
}

// ListTraces lists a notebook's runs when the recorder supports it.
func (o *Orchestrator) ListTraces(ctx context.Context, notebookID string, limit int) ([]TraceSummary, error) {
	lister, ok := o.recorder.(TraceLister)
	if !ok {
		return nil, errors.New("trace recorder does not support listing")
	}
	return lister.ListTraces(ctx, notebookID, limit)
}

// Recover rebuilds the partial trace of a run from its journal. The returned trace has no
// outcome when the run never finished.
func (o *Orchestrator) Recover(ctx context.Context, traceID string) (models.AgentTrace, error) {
	if o.journal == nil {
		return models.AgentTrace{}, ErrTraceNotFound
	}
	replay, err := o.journal.Replay(ctx, traceID)
	if err != nil {
		return models.AgentTrace{}, err
	}
	if replay == nil {
		return models.AgentTrace{}, ErrTraceNotFound
	}
	t := models.AgentTrace{
		TraceID:      traceID,
		Plan:         replay.Plan,
		Observations: replay.Observations,
		Citations:    []models.Citation{},
	}
	if len(replay.Observations) > 0 {
		t.StartedAt = replay.Observations[0].StartedAt
	}
	switch replay.Outcome {
	case executor.OutcomeAllSucceeded:
		t.Outcome = models.OutcomeCompleted
	case executor.OutcomePartialFailure:
		t.Outcome = models.OutcomeCompletedWithPartialFailures
	case executor.OutcomeRequiredFailed, executor.OutcomeAborted:
		t.Outcome = models.OutcomeFailed
	}
	return t, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if req.Notebook == nil || strings.TrimSpace(req.Notebook.NotebookID()) == "" {
		return fmt.Errorf("%w: notebook is required", ErrInvalidRequest)
	}
	return nil
}

// runOutcome maps the executor outcome onto the trace outcome. A run where nothing
// succeeded still answers, but is recorded as failed.
func runOutcome(res executor.Result, answer synthesis.Answer) models.Outcome {
	switch {
	case answer.Fallback:
		return models.OutcomeFailed
	case res.Outcome == executor.OutcomeAllSucceeded:
		return models.OutcomeCompleted
	default:
		return models.OutcomeCompletedWithPartialFailures
	}
}
