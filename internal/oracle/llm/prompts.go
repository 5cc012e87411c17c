package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

const planSystemPrompt = `You plan tool calls that answer a question about one notebook.
Use only the tools listed in the catalog. Arguments must satisfy the tool's parameter schema.
Mark a call "required": true only when the answer is impossible without it.
Reply with a single JSON object: {"calls":[{"tool_name":"...","arguments":{...},"required":false}],"reasoning":"..."}`

const repairSystemPrompt = `A tool call failed. Produce corrected arguments for the same tool.
Reply with a single JSON object: {"tool_name":"<same tool>","arguments":{...},"reasoning":"..."}`

const synthesisSystemPrompt = `You answer a question about one notebook using only the tool observations provided.
Cite every claim drawn from evidence with a marker of the form %s.
Do not invent sources. If the evidence is incomplete, say what is missing.`

func planMessages(req planner.PlanRequest) []Message {
	var b strings.Builder
	b.WriteString("Tool catalog:\n")
	b.WriteString(mustJSON(req.Catalog))
	if s := strings.TrimSpace(req.NotebookSummary); s != "" {
		b.WriteString("\n\nNotebook:\n")
		b.WriteString(s)
	}
	if req.Prior != nil {
		fmt.Fprintf(&b, "\n\nPrevious question: %s\nPrevious answer: %s", req.Prior.Query, req.Prior.FinalAnswer)
	}
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(req.Query)
	return []Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func repairMessages(req planner.RepairRequest) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nTool:\n%s\n\n", req.Query, mustJSON(req.Tool))
	fmt.Fprintf(&b, "Failed arguments (attempt %d):\n%s\n\n", req.Attempt, mustJSON(req.Original.Arguments))
	fmt.Fprintf(&b, "Error:\n%s", mustJSON(req.Error))
	return []Message{
		{Role: "system", Content: repairSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func synthesisMessages(query string, observations []models.Observation) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nObservations:\n", query)
	if len(observations) == 0 {
		b.WriteString("(none)\n")
	}
	for _, o := range observations {
		fmt.Fprintf(&b, "- step %d %s attempt %d: %s\n", o.StepIndex, o.ToolName, o.AttemptCount, o.Status)
		if o.Error != nil {
			fmt.Fprintf(&b, "  error: %s\n", o.Error.Error())
			continue
		}
		if o.Result == nil {
			continue
		}
		if len(o.Result.Output) > 0 {
			fmt.Fprintf(&b, "  output: %s\n", o.Result.Output)
		}
		for _, ev := range o.Result.Evidence {
			m := synthesis.Marker{SourceID: ev.SourceID, ChunkIndex: ev.ChunkIndex, PageOrSection: ev.PageOrSection}
			fmt.Fprintf(&b, "  evidence %s: %s\n", m.String(), ev.Text)
		}
	}
	return []Message{
		{Role: "system", Content: fmt.Sprintf(synthesisSystemPrompt, synthesis.MarkerFormat)},
		{Role: "user", Content: b.String()},
	}
}

func mustJSON(v interface{}) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
