package executor

import (
	"context"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// StepJournal receives every attempt as it completes so a crashed run leaves its partial
// observations behind.
type StepJournal interface {
	StartRun(ctx context.Context, runID string, plan models.Plan) error
	RecordAttempt(ctx context.Context, runID string, obs models.Observation) error
	FinishRun(ctx context.Context, runID string, outcome Outcome) error
}

// NoopJournal is the default journal and records nothing.
type NoopJournal struct{}

// NewNoopJournal returns a journal that does nothing.
func NewNoopJournal() *NoopJournal { return &NoopJournal{} }

func (NoopJournal) StartRun(ctx context.Context, runID string, plan models.Plan) error { return nil }
func (NoopJournal) RecordAttempt(ctx context.Context, runID string, obs models.Observation) error {
	return nil
}
func (NoopJournal) FinishRun(ctx context.Context, runID string, outcome Outcome) error { return nil }

var _ StepJournal = NoopJournal{}
