package docsearch

import (
	"context"
	"errors"

	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// ToolName is the registered name of the search tool.
const ToolName = "search_documents"

const (
	defaultLimit = 5
	maxLimit     = 20
)

type searchOutput struct {
	Query string      `json:"query"`
	Hits  []hitOutput `json:"hits"`
}

type hitOutput struct {
	SourceID      string  `json:"source_id"`
	ChunkIndex    int     `json:"chunk_index"`
	PageOrSection string  `json:"page_or_section,omitempty"`
	Score         float64 `json:"score"`
}

// NewTool returns the search_documents tool. limit is the default hit count.
func NewTool(lib *Library, limit int) tool.Tool {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	def := models.ToolDefinition{
		Name:        ToolName,
		Description: "Full-text search over the notebook's documents. Returns matching passages with source id, page and chunk index for citation.",
		ParameterSchema: tool.ObjectSchema(map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "minLength": 1, "description": "keywords or a natural language phrase"},
			"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxLimit},
		}, "query"),
	}
	return tool.New(def, func(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error) {
		if err := ctx.Err(); err != nil {
			return models.ToolResult{}, err
		}
		q := tool.StringArg(args, "query")
		if q == "" {
			return models.ToolResult{}, tool.Failf(ToolName, "invalid_arguments", "query is empty")
		}
		hits, err := lib.Search(nb.NotebookID(), q, tool.IntArg(args, "limit", limit))
		if errors.Is(err, ErrNoIndex) {
			return models.ToolResult{}, tool.Failf(ToolName, "index_unavailable", "notebook %s has no indexed documents", nb.NotebookID())
		}
		if err != nil {
			return models.ToolResult{}, &tool.ExecutionError{Tool: ToolName, Kind: "search_error", Err: err}
		}
		out := searchOutput{Query: q, Hits: make([]hitOutput, 0, len(hits))}
		evidence := make([]models.Evidence, 0, len(hits))
		for _, h := range hits {
			out.Hits = append(out.Hits, hitOutput{SourceID: h.SourceID, ChunkIndex: h.ChunkIndex, PageOrSection: h.PageOrSection, Score: h.Score})
			evidence = append(evidence, models.Evidence{SourceID: h.SourceID, ChunkIndex: h.ChunkIndex, PageOrSection: h.PageOrSection, Text: h.Text})
		}
		return models.NewToolResult(out, evidence...)
	})
}
