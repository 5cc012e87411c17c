// Package store persists sealed agent traces in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/models"
)

type Store struct {
	DB *sql.DB
}

var (
	_ core.TraceRecorder = (*Store)(nil)
	_ core.TraceLister   = (*Store)(nil)
)

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveTrace writes a sealed trace and its per-attempt index rows. A trace id can be
// written once; a second write returns core.ErrTraceExists.
func (s *Store) SaveTrace(ctx context.Context, t models.AgentTrace) (err error) {
	if t.TraceID == "" {
		return fmt.Errorf("trace_id required")
	}
	if t.NotebookID == "" {
		return fmt.Errorf("notebook_id required")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var inserted string
	row := tx.QueryRowContext(ctx, `
INSERT INTO agent_traces (trace_id, notebook_id, query, outcome, error, final_answer, catalog_checksum, started_at, completed_at, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (trace_id) DO NOTHING
RETURNING trace_id;
`, t.TraceID, t.NotebookID, t.Query, string(t.Outcome), t.Error, t.FinalAnswer, t.CatalogChecksum, t.StartedAt, t.CompletedAt, payload)
	if err := row.Scan(&inserted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", core.ErrTraceExists, t.TraceID)
		}
		return fmt.Errorf("insert agent_traces: %w", err)
	}

	for seq, obs := range t.Observations {
		kind := ""
		if obs.Error != nil {
			kind = obs.Error.Kind
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_trace_observations (trace_id, seq, step_index, attempt_count, tool_name, status, error_kind, started_at, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
`, t.TraceID, seq, obs.StepIndex, obs.AttemptCount, obs.ToolName, string(obs.Status), kind, obs.StartedAt, obs.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert agent_trace_observations: %w", err)
		}
	}
	return nil
}

// GetTrace loads a trace from its stored payload.
func (s *Store) GetTrace(ctx context.Context, traceID string) (models.AgentTrace, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM agent_traces WHERE trace_id=$1`, traceID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AgentTrace{}, core.ErrTraceNotFound
		}
		return models.AgentTrace{}, fmt.Errorf("select agent_traces: %w", err)
	}
	var t models.AgentTrace
	if err := json.Unmarshal(payload, &t); err != nil {
		return models.AgentTrace{}, fmt.Errorf("unmarshal trace: %w", err)
	}
	return t, nil
}

// ListTraces returns a notebook's traces, newest first.
func (s *Store) ListTraces(ctx context.Context, notebookID string, limit int) ([]core.TraceSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT trace_id, notebook_id, query, outcome, started_at, completed_at
FROM agent_traces
WHERE notebook_id=$1
ORDER BY started_at DESC, trace_id DESC
LIMIT $2
`, notebookID, limit)
	if err != nil {
		return nil, fmt.Errorf("select agent_traces: %w", err)
	}
	defer rows.Close()

	var out []core.TraceSummary
	for rows.Next() {
		var (
			sum     core.TraceSummary
			outcome string
		)
		if err := rows.Scan(&sum.TraceID, &sum.NotebookID, &sum.Query, &outcome, &sum.StartedAt, &sum.CompletedAt); err != nil {
			return nil, err
		}
		sum.Outcome = models.Outcome(outcome)
		out = append(out, sum)
	}
	return out, rows.Err()
}
