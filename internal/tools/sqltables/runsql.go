package sqltables

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// evidenceRows bounds how many rows are rendered into the citable evidence text.
const evidenceRows = 20

type queryOutput struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"row_count"`
	Truncated bool            `json:"truncated"`
}

// RunSQLTool returns run_sql. It is repairable: a failed statement is sent back to the
// planning oracle with the database error for correction.
func (t *Tables) RunSQLTool() tool.Tool {
	def := models.ToolDefinition{
		Name:        RunSQLToolName,
		Description: fmt.Sprintf("Runs one read-only SELECT (or WITH ... SELECT) statement against the notebook's tables and returns at most %d rows.", t.maxRows),
		ParameterSchema: tool.ObjectSchema(map[string]interface{}{
			"sql": map[string]interface{}{"type": "string", "minLength": 1},
		}, "sql"),
		Repairable: true,
	}
	return tool.New(def, t.runSQL)
}

// QueryID is the evidence source id of a statement's result set.
func QueryID(statement string) string {
	sum := sha256.Sum256([]byte(normalizeStatement(statement)))
	return "query:" + hex.EncodeToString(sum[:])[:12]
}

func normalizeStatement(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	return s
}

func (t *Tables) runSQL(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (res models.ToolResult, err error) {
	statement := normalizeStatement(tool.StringArg(args, "sql"))
	schema := t.schemaFor(nb.NotebookID())
	if err := checkStatement(statement, schema); err != nil {
		return models.ToolResult{}, &tool.ExecutionError{Tool: RunSQLToolName, Kind: "sql_rejected", Message: err.Error(),
			Details: map[string]interface{}{"sql": statement}}
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
	}
	// read-only work is never committed
	defer func() { _ = tx.Rollback() }()

	if t.roleFor != nil {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pq.QuoteIdentifier(t.roleFor(nb.NotebookID()))); err != nil {
			return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+pq.QuoteIdentifier(schema)); err != nil {
		return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", t.statementTimeout.Milliseconds())); err != nil {
		return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
	}

	started := time.Now()
	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return models.ToolResult{}, withStatement(sqlFailure(RunSQLToolName, err), statement)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
	}
	out := queryOutput{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		if len(out.Rows) == t.maxRows {
			out.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return models.ToolResult{}, sqlFailure(RunSQLToolName, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return models.ToolResult{}, withStatement(sqlFailure(RunSQLToolName, err), statement)
	}
	out.RowCount = len(out.Rows)

	t.logger.Debug("run_sql",
		zap.String("notebook_id", nb.NotebookID()),
		zap.Int("rows", out.RowCount),
		zap.Bool("truncated", out.Truncated),
		zap.Duration("elapsed", time.Since(started)))

	return models.NewToolResult(out, models.Evidence{
		SourceID:      QueryID(statement),
		ChunkIndex:    0,
		PageOrSection: rowRange(out),
		Text:          renderRows(out),
	})
}

func withStatement(err error, statement string) error {
	if ee, ok := err.(*tool.ExecutionError); ok {
		if ee.Details == nil {
			ee.Details = map[string]interface{}{}
		}
		ee.Details["sql"] = statement
	}
	return err
}

func rowRange(out queryOutput) string {
	if out.RowCount == 0 {
		return "no rows"
	}
	return fmt.Sprintf("rows 1-%d", out.RowCount)
}

// renderRows formats the leading rows as a pipe-separated table.
func renderRows(out queryOutput) string {
	var b strings.Builder
	b.WriteString(strings.Join(out.Columns, " | "))
	for i, row := range out.Rows {
		if i == evidenceRows {
			fmt.Fprintf(&b, "\n... %d more rows", out.RowCount-evidenceRows)
			break
		}
		b.WriteByte('\n')
		for j, v := range row {
			if j > 0 {
				b.WriteString(" | ")
			}
			if v == nil {
				b.WriteString("NULL")
				continue
			}
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
