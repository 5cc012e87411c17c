package sqltables

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

const describeQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND ($2 = '' OR table_name = $2)
ORDER BY table_name, ordinal_position
`

type column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type table struct {
	Name    string   `json:"name"`
	Columns []column `json:"columns"`
}

type describeOutput struct {
	Schema string  `json:"schema"`
	Tables []table `json:"tables"`
}

// DescribeTool returns describe_tables, which lists the notebook's tables and columns.
func (t *Tables) DescribeTool() tool.Tool {
	def := models.ToolDefinition{
		Name:        DescribeToolName,
		Description: "Lists the notebook's SQL tables with column names and types. Call before run_sql.",
		ParameterSchema: tool.ObjectSchema(map[string]interface{}{
			"table": map[string]interface{}{"type": "string", "description": "restrict to one table"},
		}),
	}
	return tool.New(def, t.describe)
}

func (t *Tables) describe(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error) {
	schema := t.schemaFor(nb.NotebookID())
	rows, err := t.db.QueryContext(ctx, describeQuery, schema, tool.StringArg(args, "table"))
	if err != nil {
		return models.ToolResult{}, sqlFailure(DescribeToolName, err)
	}
	defer rows.Close()

	out := describeOutput{Schema: schema, Tables: []table{}}
	for rows.Next() {
		var tableName, colName, colType, nullable string
		if err := rows.Scan(&tableName, &colName, &colType, &nullable); err != nil {
			return models.ToolResult{}, sqlFailure(DescribeToolName, err)
		}
		if n := len(out.Tables); n == 0 || out.Tables[n-1].Name != tableName {
			out.Tables = append(out.Tables, table{Name: tableName})
		}
		last := &out.Tables[len(out.Tables)-1]
		last.Columns = append(last.Columns, column{Name: colName, Type: colType, Nullable: nullable == "YES"})
	}
	if err := rows.Err(); err != nil {
		return models.ToolResult{}, sqlFailure(DescribeToolName, err)
	}
	return models.NewToolResult(out)
}

// sqlFailure turns a driver error into a structured tool failure. Postgres errors keep
// their SQLSTATE and position so the planning oracle can correct the statement.
func sqlFailure(toolName string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		details := map[string]interface{}{
			"code":      string(pqErr.Code),
			"condition": pqErr.Code.Name(),
		}
		if pqErr.Position != "" {
			details["position"] = pqErr.Position
		}
		if pqErr.Detail != "" {
			details["detail"] = pqErr.Detail
		}
		if pqErr.Hint != "" {
			details["hint"] = pqErr.Hint
		}
		return &tool.ExecutionError{Tool: toolName, Kind: "sql_error", Message: pqErr.Message, Details: details, Err: err}
	}
	return &tool.ExecutionError{Tool: toolName, Kind: "sql_error", Message: fmt.Sprint(err), Err: err}
}
