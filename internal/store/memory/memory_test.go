package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/internal/store/memory"
	"github.com/srinidhi621/knowledge-atlas/models"
)

func TestRecorderIsAppendOnly(t *testing.T) {
	rec := memory.New()
	ctx := context.Background()
	trace := models.AgentTrace{TraceID: "t1", NotebookID: "nb", Outcome: models.OutcomeCompleted}

	if err := rec.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	if err := rec.SaveTrace(ctx, trace); !errors.Is(err, core.ErrTraceExists) {
		t.Fatalf("expected ErrTraceExists, got %v", err)
	}
	if _, err := rec.GetTrace(ctx, "missing"); !errors.Is(err, core.ErrTraceNotFound) {
		t.Fatalf("expected ErrTraceNotFound, got %v", err)
	}
}

func TestRecorderReturnsCopies(t *testing.T) {
	rec := memory.New()
	ctx := context.Background()
	trace := models.AgentTrace{
		TraceID:      "t1",
		Observations: []models.Observation{{StepIndex: 0, Arguments: map[string]interface{}{"sql": "select 1"}}},
	}
	if err := rec.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	trace.Observations[0].Arguments["sql"] = "drop table x"

	got, err := rec.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if got.Observations[0].Arguments["sql"] != "select 1" {
		t.Fatalf("stored trace was mutated through caller's copy")
	}
	got.Observations[0].Arguments["sql"] = "changed"
	again, _ := rec.GetTrace(ctx, "t1")
	if again.Observations[0].Arguments["sql"] != "select 1" {
		t.Fatalf("stored trace was mutated through returned copy")
	}
}

func TestRecorderListsNewestFirst(t *testing.T) {
	rec := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = rec.SaveTrace(ctx, models.AgentTrace{TraceID: id, NotebookID: "nb", StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = rec.SaveTrace(ctx, models.AgentTrace{TraceID: "other", NotebookID: "nb-2", StartedAt: base})

	list, err := rec.ListTraces(ctx, "nb", 2)
	if err != nil {
		t.Fatalf("ListTraces: %v", err)
	}
	if len(list) != 2 || list[0].TraceID != "c" || list[1].TraceID != "b" {
		t.Fatalf("unexpected listing %#v", list)
	}
	if rec.Len() != 4 {
		t.Fatalf("expected 4 traces, got %d", rec.Len())
	}
}
