package models

import (
	"encoding/json"
	"time"
)

// ToolDefinition describes a tool to the planning oracle. It is immutable once registered.
type ToolDefinition struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	ParameterSchema map[string]interface{} `json:"parameter_schema"`
	// Repairable marks generate-then-execute tools whose failures can be corrected by the oracle.
	Repairable bool `json:"repairable"`
}

// ToolCall is one planned invocation. StepIndex is zero-based and defines execution order.
type ToolCall struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	StepIndex int                    `json:"step_index"`
	Required  bool                   `json:"required,omitempty"`
}

// Plan is the validated, ordered list of tool calls for one query.
type Plan struct {
	Calls []ToolCall `json:"calls"`
}

// Len returns the number of steps in the plan.
func (p Plan) Len() int { return len(p.Calls) }

// StepStatus is the terminal status of one attempt.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Evidence is a citable chunk returned by a tool.
type Evidence struct {
	SourceID      string `json:"source_id"`
	PageOrSection string `json:"page_or_section,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
	Text          string `json:"text"`
}

// ToolResult is the tool-specific payload of a successful attempt.
type ToolResult struct {
	Output   json.RawMessage `json:"output,omitempty"`
	Evidence []Evidence      `json:"evidence,omitempty"`
}

// NewToolResult encodes v as the result output.
func NewToolResult(v interface{}, evidence ...Evidence) (ToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Output: raw, Evidence: evidence}, nil
}

// Error kinds recorded on failed observations.
const (
	ErrorKindTool        = "tool_error"
	ErrorKindTimeout     = "timeout"
	ErrorKindCanceled    = "canceled"
	ErrorKindPanic       = "panic"
	ErrorKindUnknownTool = "unknown_tool"
)

// ObservationError is the structured failure description of an attempt.
type ObservationError struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e ObservationError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Observation records the outcome of a single tool invocation attempt.
type Observation struct {
	StepIndex    int                    `json:"step_index"`
	ToolName     string                 `json:"tool_name"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Status       StepStatus             `json:"status"`
	Result       *ToolResult            `json:"result,omitempty"`
	Error        *ObservationError      `json:"error,omitempty"`
	AttemptCount int                    `json:"attempt_count"`
	StartedAt    time.Time              `json:"started_at"`
	Duration     time.Duration          `json:"duration"`
}

// Succeeded reports whether the attempt succeeded.
func (o Observation) Succeeded() bool { return o.Status == StepSucceeded }

// Citation is a structured reference parsed out of a synthesized answer.
type Citation struct {
	SourceID      string `json:"source_identifier"`
	PageOrSection string `json:"page_or_section,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
	TextSnippet   string `json:"text_snippet"`
}

// Outcome is the run-level result recorded on a sealed trace.
type Outcome string

const (
	OutcomeCompleted                    Outcome = "completed"
	OutcomeCompletedWithPartialFailures Outcome = "completed_with_partial_failures"
	OutcomeFailed                       Outcome = "failed"
)

// AgentTrace is the durable record of one orchestration run.
type AgentTrace struct {
	TraceID         string        `json:"trace_id"`
	NotebookID      string        `json:"notebook_id"`
	Query           string        `json:"query"`
	Plan            Plan          `json:"plan"`
	Observations    []Observation `json:"observations"`
	FinalAnswer     string        `json:"final_answer"`
	Citations       []Citation    `json:"citations"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Outcome         Outcome       `json:"outcome"`
	Error           string        `json:"error,omitempty"`
	CatalogChecksum string        `json:"catalog_checksum,omitempty"`
}

// Duration returns the wall time of the run.
func (t AgentTrace) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// ObservationsFor returns the attempts recorded for one step, in attempt order.
func (t AgentTrace) ObservationsFor(stepIndex int) []Observation {
	var out []Observation
	for _, o := range t.Observations {
		if o.StepIndex == stepIndex {
			out = append(out, o)
		}
	}
	return out
}
