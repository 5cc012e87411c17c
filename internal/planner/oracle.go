package planner

import (
	"context"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// ProposedCall is one tool invocation suggested by the planning oracle, before validation.
type ProposedCall struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Required  bool                   `json:"required,omitempty"`
}

// PlanRequest carries everything the oracle may use to propose a plan.
type PlanRequest struct {
	Query           string
	Catalog         []models.ToolDefinition
	NotebookSummary string
	// Prior is the trace of an earlier run when the query is a follow-up.
	Prior *models.AgentTrace
}

// RepairRequest asks the oracle to correct a failed call for the same step.
type RepairRequest struct {
	Query    string
	Tool     models.ToolDefinition
	Original models.ToolCall
	Error    models.ObservationError
	// Attempt is the number of the attempt that failed.
	Attempt int
}

// Oracle is the external planning service. Implementations must not have side effects
// visible to the core beyond their return values.
type Oracle interface {
	ProposePlan(ctx context.Context, req PlanRequest) ([]ProposedCall, error)
	RepairStep(ctx context.Context, req RepairRequest) (ProposedCall, error)
}
