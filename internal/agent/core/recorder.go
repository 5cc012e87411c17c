package core

import (
	"context"
	"errors"
	"time"

	"github.com/srinidhi621/knowledge-atlas/models"
)

var (
	// ErrTraceNotFound is returned by recorders for unknown trace ids.
	ErrTraceNotFound = errors.New("trace not found")
	// ErrTraceExists is returned when a trace id is written twice.
	ErrTraceExists = errors.New("trace already recorded")
)

// TraceRecorder is append-only durable storage for sealed traces.
type TraceRecorder interface {
	SaveTrace(ctx context.Context, trace models.AgentTrace) error
	GetTrace(ctx context.Context, traceID string) (models.AgentTrace, error)
}

// TraceSummary is a listing row for a notebook's runs.
type TraceSummary struct {
	TraceID     string         `json:"trace_id"`
	NotebookID  string         `json:"notebook_id"`
	Query       string         `json:"query"`
	Outcome     models.Outcome `json:"outcome"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// TraceLister is implemented by recorders that can list a notebook's traces, newest first.
type TraceLister interface {
	ListTraces(ctx context.Context, notebookID string, limit int) ([]TraceSummary, error)
}

// SummarizeTrace builds the listing row for t.
func SummarizeTrace(t models.AgentTrace) TraceSummary {
	return TraceSummary{
		TraceID:     t.TraceID,
		NotebookID:  t.NotebookID,
		Query:       t.Query,
		Outcome:     t.Outcome,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}
