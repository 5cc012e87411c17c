package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// PlanningOracle proposes and repairs plans with a chat model.
type PlanningOracle struct {
	provider    Provider
	planModel   string
	repairModel string
	logger      *zap.Logger
}

var _ planner.Oracle = (*PlanningOracle)(nil)

// NewPlanningOracle builds a planning oracle. repairModel falls back to planModel.
func NewPlanningOracle(provider Provider, planModel, repairModel string, logger *zap.Logger) *PlanningOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if repairModel == "" {
		repairModel = planModel
	}
	return &PlanningOracle{provider: provider, planModel: planModel, repairModel: repairModel, logger: logger}
}

type planResponse struct {
	Calls     []planner.ProposedCall `json:"calls"`
	Reasoning string                 `json:"reasoning"`
}

// ProposePlan asks the model for a plan and decodes the first JSON object in its reply.
func (o *PlanningOracle) ProposePlan(ctx context.Context, req planner.PlanRequest) ([]planner.ProposedCall, error) {
	schema, _, err := responseSchemas()
	if err != nil {
		return nil, err
	}
	out, err := o.provider.Complete(ctx, o.planModel, planMessages(req))
	if err != nil {
		return nil, err
	}
	var resp planResponse
	if err := decodeResponse(out.Text, schema, &resp); err != nil {
		o.logger.Debug("unparseable plan response", zap.String("text", out.Text))
		return nil, fmt.Errorf("plan response: %w", err)
	}
	o.logger.Debug("plan proposed",
		zap.Int("calls", len(resp.Calls)),
		zap.Int64("prompt_tokens", out.PromptTokens),
		zap.Int64("completion_tokens", out.CompletionTokens))
	return resp.Calls, nil
}

type repairResponse struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// RepairStep asks the model to correct the arguments of a failed call.
func (o *PlanningOracle) RepairStep(ctx context.Context, req planner.RepairRequest) (planner.ProposedCall, error) {
	_, schema, err := responseSchemas()
	if err != nil {
		return planner.ProposedCall{}, err
	}
	out, err := o.provider.Complete(ctx, o.repairModel, repairMessages(req))
	if err != nil {
		return planner.ProposedCall{}, err
	}
	var resp repairResponse
	if err := decodeResponse(out.Text, schema, &resp); err != nil {
		return planner.ProposedCall{}, fmt.Errorf("repair response: %w", err)
	}
	return planner.ProposedCall{ToolName: resp.ToolName, Arguments: resp.Arguments, Required: req.Original.Required}, nil
}

// SynthesisOracle writes the final answer with a chat model.
type SynthesisOracle struct {
	provider Provider
	model    string
	logger   *zap.Logger
}

var _ synthesis.Oracle = (*SynthesisOracle)(nil)

func NewSynthesisOracle(provider Provider, model string, logger *zap.Logger) *SynthesisOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthesisOracle{provider: provider, model: model, logger: logger}
}

// Synthesize returns the model's answer text. Citation checking happens in the synthesizer.
func (o *SynthesisOracle) Synthesize(ctx context.Context, query string, observations []models.Observation) (string, error) {
	out, err := o.provider.Complete(ctx, o.model, synthesisMessages(query, observations))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}
