// Package planner turns a query into a validated plan using the planning oracle and the
// tool registry. It never executes tools.
package planner

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

	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

var plannerTracer trace.Tracer = otel.Tracer("knowledge-atlas/internal/planner")

// PlanInput is the request-scoped input to Plan.
type PlanInput struct {
	Query    string
	Notebook models.NotebookContext
	Prior    *models.AgentTrace
}

// Planner validates oracle proposals against the registry.
type Planner struct {
	registry *tool.Registry
	oracle   Oracle
	logger   *zap.Logger
	maxSteps int
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the planner logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxSteps caps the number of steps a plan may contain. Zero or less leaves plans
// unbounded.
func WithMaxSteps(n int) Option {
	return func(p *Planner) {
		if n < 0 {
			n = 0
		}
		p.maxSteps = n
	}
}

// New constructs a Planner.
func New(registry *tool.Registry, oracle Oracle, opts ...Option) *Planner {
	p := &Planner{
		registry: registry,
		oracle:   oracle,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan asks the oracle for a plan and validates every step. The first invalid step rejects
// the whole plan.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (models.Plan, error) {
	ctx, span := plannerTracer.Start(ctx, "planner.Plan")
	defer span.End()

	start := time.Now()
	req := PlanRequest{
		Query:   in.Query,
		Catalog: p.registry.List(),
		Prior:   in.Prior,
	}
	if in.Notebook != nil {
		req.NotebookSummary = in.Notebook.Summary()
		span.SetAttributes(attribute.String("notebook.id", in.Notebook.NotebookID()))
	}

	proposed, err := p.oracle.ProposePlan(ctx, req)
	if err != nil {
		oerr := &PlanningOracleError{Op: "propose plan", Err: err}
		span.RecordError(oerr)
		span.SetStatus(codes.Error, oerr.Error())
		p.logger.Warn("planning oracle failed", zap.Error(err))
		return models.Plan{}, oerr
	}

	plan, err := p.validate(proposed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Info("plan rejected", zap.Error(err), zap.Int("proposed_steps", len(proposed)))
		return models.Plan{}, err
	}

	span.SetAttributes(attribute.Int("plan.steps", plan.Len()))
	p.logger.Debug("plan validated",
		zap.Int("steps", plan.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return plan, nil
}

func (p *Planner) validate(proposed []ProposedCall) (models.Plan, error) {
	if len(proposed) == 0 {
		return models.Plan{}, &PlanValidationError{StepIndex: -1, Reason: ErrEmptyPlan.Error(), Err: ErrEmptyPlan}
	}
	if p.maxSteps > 0 && len(proposed) > p.maxSteps {
		return models.Plan{}, &PlanLimitError{Steps: len(proposed), Limit: p.maxSteps}
	}
	calls := make([]models.ToolCall, 0, len(proposed))
	for i, pc := range proposed {
		call := models.ToolCall{
			ToolName:  pc.ToolName,
			Arguments: models.CloneArguments(pc.Arguments),
			StepIndex: i,
			Required:  pc.Required,
		}
		if err := p.validateCall(call); err != nil {
			return models.Plan{}, err
		}
		calls = append(calls, call)
	}
	return models.Plan{Calls: calls}, nil
}

func (p *Planner) validateCall(call models.ToolCall) error {
	if _, ok := p.registry.Get(call.ToolName); !ok {
		return &PlanValidationError{
			StepIndex: call.StepIndex,
			ToolName:  call.ToolName,
			Reason:    fmt.Sprintf("unknown tool %q", call.ToolName),
			Err:       tool.ErrUnknownTool,
		}
	}
	if err := p.registry.ValidateArguments(call.ToolName, call.Arguments); err != nil {
		return &PlanValidationError{
			StepIndex: call.StepIndex,
			ToolName:  call.ToolName,
			Reason:    err.Error(),
			Err:       err,
		}
	}
	return nil
}

// Repair asks the oracle to correct a failed call. The corrected call keeps the step index,
// the required flag and the tool of the original; only the arguments may change.
func (p *Planner) Repair(ctx context.Context, query string, failed models.ToolCall, cause models.ObservationError, attempt int) (models.ToolCall, error) {
	ctx, span := plannerTracer.Start(ctx, "planner.Repair", trace.WithAttributes(
		attribute.String("tool.name", failed.ToolName),
		attribute.Int("step.index", failed.StepIndex),
		attribute.Int("step.attempt", attempt),
	))
	defer span.End()

	def, ok := p.registry.Definition(failed.ToolName)
	if !ok {
		err := &PlanValidationError{StepIndex: failed.StepIndex, ToolName: failed.ToolName, Reason: "unknown tool", Err: tool.ErrUnknownTool}
		span.RecordError(err)
		return models.ToolCall{}, err
	}

	proposed, err := p.oracle.RepairStep(ctx, RepairRequest{
		Query:    query,
		Tool:     def,
		Original: models.CloneToolCall(failed),
		Error:    cause,
		Attempt:  attempt,
	})
	if err != nil {
		oerr := &PlanningOracleError{Op: "repair step", Err: err}
		span.RecordError(oerr)
		span.SetStatus(codes.Error, oerr.Error())
		return models.ToolCall{}, oerr
	}

	if proposed.ToolName != "" && proposed.ToolName != failed.ToolName {
		err := &PlanValidationError{
			StepIndex: failed.StepIndex,
			ToolName:  proposed.ToolName,
			Reason:    fmt.Sprintf("repair must keep tool %q", failed.ToolName),
		}
		span.RecordError(err)
		return models.ToolCall{}, err
	}
	corrected := models.ToolCall{
		ToolName:  failed.ToolName,
		Arguments: models.CloneArguments(proposed.Arguments),
		StepIndex: failed.StepIndex,
		Required:  failed.Required,
	}
	if err := p.validateCall(corrected); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ToolCall{}, err
	}
	p.logger.Debug("step repaired",
		zap.String("tool", corrected.ToolName),
		zap.Int("step", corrected.StepIndex),
		zap.Int("next_attempt", attempt+1))
	return corrected, nil
}

// IsValidationError reports whether err rejects a plan or a repaired call.
func IsValidationError(err error) bool {
	var verr *PlanValidationError
	return errors.As(err, &verr)
}
