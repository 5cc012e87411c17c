package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srinidhi621/knowledge-atlas/models"
)

func TestTraceBuilderSealsOnce(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := NewTraceBuilder("tr-1", "nb-1", "what changed?", start)
	require.NoError(t, b.SetCatalogChecksum("abc"))
	require.NoError(t, b.SetPlan(models.Plan{Calls: []models.ToolCall{{ToolName: "search_documents", Arguments: map[string]interface{}{"query": "x"}}}}))
	require.NoError(t, b.AppendObservation(models.Observation{StepIndex: 0, ToolName: "search_documents", Status: models.StepSucceeded, AttemptCount: 1}))

	sealed, err := b.Seal(Completion{
		Answer:      "done",
		Outcome:     models.OutcomeCompleted,
		Citations:   []models.Citation{{SourceID: "a.pdf"}},
		CompletedAt: start.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, b.Sealed())
	assert.Equal(t, "tr-1", sealed.TraceID)
	assert.Equal(t, "nb-1", sealed.NotebookID)
	assert.Equal(t, "abc", sealed.CatalogChecksum)
	assert.Equal(t, 2*time.Second, sealed.Duration())
	assert.Len(t, sealed.Observations, 1)
	assert.Empty(t, sealed.Error)

	assert.ErrorIs(t, b.AppendObservation(models.Observation{}), ErrTraceSealed)
	assert.ErrorIs(t, b.SetPlan(models.Plan{}), ErrTraceSealed)
	assert.ErrorIs(t, b.SetCatalogChecksum("x"), ErrTraceSealed)
	_, err = b.Seal(Completion{})
	assert.ErrorIs(t, err, ErrTraceSealed)
}

func TestTraceBuilderRecordsFailure(t *testing.T) {
	b := NewTraceBuilder("tr-2", "nb-1", "q", time.Now())
	sealed, err := b.Seal(Completion{Outcome: models.OutcomeFailed, Err: errors.New("invalid plan"), CompletedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, sealed.Outcome)
	assert.Equal(t, "invalid plan", sealed.Error)
	assert.NotNil(t, sealed.Observations)
	assert.NotNil(t, sealed.Citations)
}

func TestTraceBuilderSnapshotIsDetached(t *testing.T) {
	b := NewTraceBuilder("tr-3", "nb-1", "q", time.Now())
	args := map[string]interface{}{"sql": "select 1"}
	require.NoError(t, b.AppendObservation(models.Observation{Arguments: args}))
	args["sql"] = "mutated"

	snap := b.Snapshot()
	assert.Equal(t, "select 1", snap.Observations[0].Arguments["sql"])
	snap.Observations[0].Arguments["sql"] = "again"
	assert.Equal(t, "select 1", b.Snapshot().Observations[0].Arguments["sql"])
}

func TestRunErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &RunError{TraceID: "tr", Stage: StagePlan, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plan failed (trace tr): boom", err.Error())

	werr := &TraceWriteError{TraceID: "tr", Err: cause}
	assert.ErrorIs(t, werr, cause)
}
