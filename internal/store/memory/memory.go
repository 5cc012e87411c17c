// Package memory is an in-process trace recorder for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// Recorder keeps sealed traces in a map. Traces are cloned on the way in and out.
type Recorder struct {
	mu     sync.RWMutex
	traces map[string]models.AgentTrace
}

var (
	_ core.TraceRecorder = (*Recorder)(nil)
	_ core.TraceLister   = (*Recorder)(nil)
)

func New() *Recorder {
	return &Recorder{traces: map[string]models.AgentTrace{}}
}

func (r *Recorder) SaveTrace(_ context.Context, t models.AgentTrace) error {
	if t.TraceID == "" {
		return fmt.Errorf("trace id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.traces[t.TraceID]; exists {
		return fmt.Errorf("%w: %s", core.ErrTraceExists, t.TraceID)
	}
	r.traces[t.TraceID] = models.CloneTrace(t)
	return nil
}

func (r *Recorder) GetTrace(_ context.Context, traceID string) (models.AgentTrace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.traces[traceID]
	if !ok {
		return models.AgentTrace{}, core.ErrTraceNotFound
	}
	return models.CloneTrace(t), nil
}

func (r *Recorder) ListTraces(_ context.Context, notebookID string, limit int) ([]core.TraceSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.TraceSummary
	for _, t := range r.traces {
		if t.NotebookID == notebookID {
			out = append(out, core.SummarizeTrace(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].TraceID > out[j].TraceID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored traces.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traces)
}
