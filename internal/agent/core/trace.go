package core

import (
	"errors"
	"sync"
	"time"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// ErrTraceSealed is returned when mutating a trace after Seal.
var ErrTraceSealed = errors.New("trace is sealed")

// TraceBuilder accumulates one run's trace. It is owned by a single run; the mutex only
// guards against observation callbacks racing a concurrent Snapshot.
type TraceBuilder struct {
	mu     sync.Mutex
	trace  models.AgentTrace
	sealed bool
}

// NewTraceBuilder opens the trace shell for a run.
func NewTraceBuilder(traceID, notebookID, query string, startedAt time.Time) *TraceBuilder {
	return &TraceBuilder{trace: models.AgentTrace{
		TraceID:      traceID,
		NotebookID:   notebookID,
		Query:        query,
		StartedAt:    startedAt.UTC(),
		Observations: []models.Observation{},
		Citations:    []models.Citation{},
	}}
}

// ID returns the trace id.
func (b *TraceBuilder) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trace.TraceID
}

// SetCatalogChecksum records the tool catalog the run planned against.
func (b *TraceBuilder) SetCatalogChecksum(sum string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrTraceSealed
	}
	b.trace.CatalogChecksum = sum
	return nil
}

// SetPlan records the validated plan.
func (b *TraceBuilder) SetPlan(plan models.Plan) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrTraceSealed
	}
	b.trace.Plan = models.ClonePlan(plan)
	return nil
}

// AppendObservation adds one attempt in execution order.
func (b *TraceBuilder) AppendObservation(obs models.Observation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrTraceSealed
	}
	b.trace.Observations = append(b.trace.Observations, models.CloneObservation(obs))
	return nil
}

// Completion is the terminal information recorded by Seal.
type Completion struct {
	Answer      string
	Citations   []models.Citation
	Outcome     models.Outcome
	Err         error
	CompletedAt time.Time
}

// Seal finalizes the trace and returns it. Sealing twice fails.
func (b *TraceBuilder) Seal(c Completion) (models.AgentTrace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return models.AgentTrace{}, ErrTraceSealed
	}
	b.sealed = true
	b.trace.FinalAnswer = c.Answer
	if c.Citations != nil {
		b.trace.Citations = append([]models.Citation(nil), c.Citations...)
	}
	b.trace.Outcome = c.Outcome
	if c.Err != nil {
		b.trace.Error = c.Err.Error()
	}
	b.trace.CompletedAt = c.CompletedAt.UTC()
	return models.CloneTrace(b.trace), nil
}

// Sealed reports whether Seal has been called.
func (b *TraceBuilder) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// Snapshot returns a copy of the trace as it stands.
func (b *TraceBuilder) Snapshot() models.AgentTrace {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CloneTrace(b.trace)
}
