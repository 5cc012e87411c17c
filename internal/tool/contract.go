// Package tool defines the capability contract every tool implements and the registry
// the planner and executor resolve tools through.
package tool

import (
	"context"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// Tool produces a result for validated arguments within one notebook, or fails.
// Implementations must be deterministic for identical arguments and notebook state.
type Tool interface {
	Definition() models.ToolDefinition
	Execute(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error)
}

// Func adapts a plain function into a Tool.
type Func func(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error)

type funcTool struct {
	def models.ToolDefinition
	fn  Func
}

// New returns a Tool backed by fn.
func New(def models.ToolDefinition, fn Func) Tool {
	return &funcTool{def: def, fn: fn}
}

func (t *funcTool) Definition() models.ToolDefinition { return t.def }

func (t *funcTool) Execute(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error) {
	return t.fn(ctx, args, nb)
}

// ObjectSchema builds a draft 2020-12 object schema from property schemas.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
