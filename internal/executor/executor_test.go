package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/tool"
	"github.com/srinidhi621/knowledge-atlas/models"
)

var testNotebook = models.Notebook{ID: "nb-test", Description: "test notebook"}

type stubJournal struct {
	mu        sync.Mutex
	events    []string
	appendErr error
}

func (s *stubJournal) StartRun(ctx context.Context, runID string, plan models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf("start:%s:%d", runID, plan.Len()))
	return nil
}

func (s *stubJournal) RecordAttempt(ctx context.Context, runID string, obs models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf("attempt:%d:%d:%s", obs.StepIndex, obs.AttemptCount, obs.Status))
	return s.appendErr
}

func (s *stubJournal) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "finish:"+string(outcome))
	return nil
}

type stubRepairer struct {
	fixes  []map[string]interface{}
	err    error
	calls  []models.ObservationError
	counts []int
}

func (s *stubRepairer) Repair(ctx context.Context, query string, failed models.ToolCall, cause models.ObservationError, attempt int) (models.ToolCall, error) {
	s.calls = append(s.calls, cause)
	s.counts = append(s.counts, attempt)
	if s.err != nil {
		return models.ToolCall{}, s.err
	}
	if len(s.fixes) == 0 {
		return failed, nil
	}
	fixed := failed
	fixed.Arguments = s.fixes[0]
	s.fixes = s.fixes[1:]
	return fixed, nil
}

// scriptedTool fails with errs in order, then succeeds.
type scriptedTool struct {
	def   models.ToolDefinition
	mu    sync.Mutex
	errs  []error
	calls []map[string]interface{}
}

func (s *scriptedTool) Definition() models.ToolDefinition { return s.def }

func (s *scriptedTool) Execute(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, args)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return models.ToolResult{}, err
	}
	return models.NewToolResult(map[string]interface{}{"rows": 1}, models.Evidence{SourceID: s.def.Name, ChunkIndex: 0, Text: "ok"})
}

func (s *scriptedTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newScripted(name string, repairable bool, errs ...error) *scriptedTool {
	return &scriptedTool{
		def:  models.ToolDefinition{Name: name, Description: name, Repairable: repairable},
		errs: errs,
	}
}

func failing(name string, repairable bool, times int) *scriptedTool {
	errs := make([]error, times)
	for i := range errs {
		errs[i] = tool.Failf(name, "sql_error", "syntax error at or near %q", "FORM")
	}
	return newScripted(name, repairable, errs...)
}

func registryWith(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	reg.MustRegister(tools...)
	reg.Seal()
	return reg
}

func planOf(calls ...models.ToolCall) models.Plan {
	for i := range calls {
		calls[i].StepIndex = i
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]interface{}{}
		}
	}
	return models.Plan{Calls: calls}
}

func TestExecuteSingleStepSucceeds(t *testing.T) {
	search := newScripted("search_documents", false)
	ex := New(registryWith(t, search))

	res, err := ex.Execute(context.Background(), Request{
		RunID:    "run-1",
		Plan:     planOf(models.ToolCall{ToolName: "search_documents", Arguments: map[string]interface{}{"query": "q"}}),
		Notebook: testNotebook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllSucceeded, res.Outcome)
	require.Len(t, res.Observations, 1)
	obs := res.Observations[0]
	assert.Equal(t, models.StepSucceeded, obs.Status)
	assert.Equal(t, 1, obs.AttemptCount)
	require.NotNil(t, obs.Result)
	assert.Nil(t, obs.Error)
	assert.Equal(t, "q", obs.Arguments["query"])
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StateSucceeded, res.Steps[0].State)
}

func TestExecuteRepairsThenSucceeds(t *testing.T) {
	sql := failing("run_sql", true, 1)
	repairer := &stubRepairer{fixes: []map[string]interface{}{{"sql": "SELECT 1 FROM t"}}}
	ex := New(registryWith(t, sql), WithRepairer(repairer))

	res, err := ex.Execute(context.Background(), Request{
		Query: "how many rows",
		Plan:  planOf(models.ToolCall{ToolName: "run_sql", Arguments: map[string]interface{}{"sql": "SELECT 1 FORM t"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllSucceeded, res.Outcome)
	require.Len(t, res.Observations, 2)

	first, second := res.Observations[0], res.Observations[1]
	assert.Equal(t, 0, first.StepIndex)
	assert.Equal(t, 0, second.StepIndex)
	assert.Equal(t, 1, first.AttemptCount)
	assert.Equal(t, models.StepFailed, first.Status)
	assert.Equal(t, "sql_error", first.Error.Kind)
	assert.Equal(t, "SELECT 1 FORM t", first.Arguments["sql"])
	assert.Equal(t, 2, second.AttemptCount)
	assert.Equal(t, models.StepSucceeded, second.Status)
	assert.Equal(t, "SELECT 1 FROM t", second.Arguments["sql"])

	require.Len(t, repairer.calls, 1)
	assert.Equal(t, "sql_error", repairer.calls[0].Kind)
	assert.Equal(t, []int{1}, repairer.counts)
	assert.Equal(t, 2, res.Steps[0].Attempts)
}

func TestExecuteRepairableStopsAtMaxAttempts(t *testing.T) {
	sql := failing("run_sql", true, 10)
	repairer := &stubRepairer{}
	ex := New(registryWith(t, sql), WithRepairer(repairer))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "run_sql"})})
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialFailure, res.Outcome)
	assert.Len(t, res.Observations, DefaultMaxAttempts)
	assert.Equal(t, DefaultMaxAttempts, sql.callCount())
	assert.Len(t, repairer.calls, DefaultMaxAttempts-1)
	for i, obs := range res.Observations {
		assert.Equal(t, i+1, obs.AttemptCount)
		assert.Equal(t, models.StepFailed, obs.Status)
	}

	var exhausted *RepairExhaustedError
	require.ErrorAs(t, res.Steps[0].Err, &exhausted)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
	assert.Equal(t, "sql_error", exhausted.Last.Kind)
}

func TestExecuteHonoursConfiguredMaxAttempts(t *testing.T) {
	sql := failing("run_sql", true, 10)
	ex := New(registryWith(t, sql), WithRepairer(&stubRepairer{}), WithMaxAttempts(5))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "run_sql"})})
	require.NoError(t, err)
	assert.Len(t, res.Observations, 5)
	assert.Equal(t, 5, ex.MaxAttempts())
}

func TestExecuteNonRepairableFailsOnce(t *testing.T) {
	search := failing("search_documents", false, 5)
	repairer := &stubRepairer{}
	ex := New(registryWith(t, search), WithRepairer(repairer))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "search_documents"})})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, 1, res.Observations[0].AttemptCount)
	assert.Empty(t, repairer.calls)

	var execErr *tool.ExecutionError
	require.ErrorAs(t, res.Steps[0].Err, &execErr)
	assert.Equal(t, "sql_error", execErr.Kind)
}

func TestExecuteRequiredFailureStopsRun(t *testing.T) {
	first := newScripted("search_documents", false)
	sql := failing("run_sql", true, 10)
	last := newScripted("describe_tables", false)
	ex := New(registryWith(t, first, sql, last), WithRepairer(&stubRepairer{}))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(
		models.ToolCall{ToolName: "search_documents"},
		models.ToolCall{ToolName: "run_sql", Required: true},
		models.ToolCall{ToolName: "describe_tables"},
	)})
	var reqErr *RequiredStepError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 1, reqErr.StepIndex)
	var exhausted *RepairExhaustedError
	assert.ErrorAs(t, err, &exhausted)

	assert.Equal(t, OutcomeRequiredFailed, res.Outcome)
	assert.Len(t, res.Observations, 1+DefaultMaxAttempts)
	for _, obs := range res.Observations {
		assert.NotEqual(t, 2, obs.StepIndex)
	}
	assert.Zero(t, last.callCount())
	assert.Len(t, res.Steps, 2)
}

func TestExecuteContinuesPastOptionalFailure(t *testing.T) {
	broken := failing("describe_tables", false, 1)
	search := newScripted("search_documents", false)
	ex := New(registryWith(t, broken, search))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(
		models.ToolCall{ToolName: "describe_tables"},
		models.ToolCall{ToolName: "search_documents"},
	)})
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialFailure, res.Outcome)
	require.Len(t, res.Observations, 2)
	assert.True(t, res.Observations[1].Succeeded())
	require.Len(t, res.FailedSteps(), 1)
	assert.Equal(t, 0, res.FailedSteps()[0].StepIndex)
}

func TestExecuteRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	boom := tool.New(models.ToolDefinition{Name: "boom"}, func(context.Context, map[string]interface{}, models.NotebookContext) (models.ToolResult, error) {
		panic("index out of range")
	})
	ex := New(registryWith(t, boom))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "boom"})})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, models.ErrorKindPanic, res.Observations[0].Error.Kind)
	assert.Contains(t, res.Observations[0].Error.Message, "index out of range")
}

func TestExecuteStepTimeoutIsRepairable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	slow := tool.New(models.ToolDefinition{Name: "run_sql", Repairable: true}, func(ctx context.Context, _ map[string]interface{}, _ models.NotebookContext) (models.ToolResult, error) {
		<-ctx.Done()
		return models.ToolResult{}, ctx.Err()
	})
	repairer := &stubRepairer{}
	ex := New(registryWith(t, slow), WithRepairer(repairer), WithStepTimeout(10*time.Millisecond), WithMaxAttempts(2))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "run_sql"})})
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)
	for _, obs := range res.Observations {
		assert.Equal(t, models.ErrorKindTimeout, obs.Error.Kind)
	}
	require.Len(t, repairer.calls, 1)
	assert.Equal(t, models.ErrorKindTimeout, repairer.calls[0].Kind)
}

func TestExecuteRunCancellationAborts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocking := tool.New(models.ToolDefinition{Name: "run_sql", Repairable: true}, func(ctx context.Context, _ map[string]interface{}, _ models.NotebookContext) (models.ToolResult, error) {
		cancel()
		<-ctx.Done()
		return models.ToolResult{}, ctx.Err()
	})
	next := newScripted("search_documents", false)
	repairer := &stubRepairer{}
	ex := New(registryWith(t, blocking, next), WithRepairer(repairer))

	res, err := ex.Execute(ctx, Request{Plan: planOf(
		models.ToolCall{ToolName: "run_sql"},
		models.ToolCall{ToolName: "search_documents"},
	)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, models.ErrorKindCanceled, res.Observations[0].Error.Kind)
	assert.Empty(t, repairer.calls)
	assert.Zero(t, next.callCount())
}

func TestExecuteRepairOracleFailureAbortsRun(t *testing.T) {
	sql := failing("run_sql", true, 3)
	after := newScripted("search_documents", false)
	journal := &stubJournal{}
	outage := &planner.PlanningOracleError{Op: "repair step", Err: errors.New("upstream 503")}
	ex := New(registryWith(t, sql, after), WithRepairer(&stubRepairer{err: outage}), WithJournal(journal))

	res, err := ex.Execute(context.Background(), Request{RunID: "run-7", Plan: planOf(
		models.ToolCall{ToolName: "run_sql"},
		models.ToolCall{ToolName: "search_documents"},
	)})
	require.Error(t, err)
	var oracleErr *planner.PlanningOracleError
	require.ErrorAs(t, err, &oracleErr)
	assert.Contains(t, err.Error(), "upstream 503")
	var repairErr *RepairError
	require.ErrorAs(t, err, &repairErr)
	assert.Equal(t, 1, repairErr.Attempt)

	assert.Equal(t, OutcomeAborted, res.Outcome)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, StateFailed, res.Steps[0].State)
	assert.Zero(t, after.callCount())
	assert.Equal(t, "finish:aborted", journal.events[len(journal.events)-1])
}

func TestExecuteRejectedRepairEndsOnlyThatStep(t *testing.T) {
	sql := failing("run_sql", true, 3)
	after := newScripted("search_documents", false)
	rejected := &planner.PlanValidationError{StepIndex: 0, ToolName: "search_documents", Reason: `repair must keep tool "run_sql"`}
	ex := New(registryWith(t, sql, after), WithRepairer(&stubRepairer{err: rejected}))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(
		models.ToolCall{ToolName: "run_sql"},
		models.ToolCall{ToolName: "search_documents"},
	)})
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialFailure, res.Outcome)
	require.Len(t, res.Observations, 2)
	var repairErr *RepairError
	require.ErrorAs(t, res.Steps[0].Err, &repairErr)
	assert.True(t, planner.IsValidationError(repairErr))
	assert.Equal(t, StateFailed, res.Steps[0].State)
	assert.Equal(t, 1, after.callCount())
}

func TestExecuteCopiesStructuredToolErrors(t *testing.T) {
	sql := newScripted("run_sql", false, &tool.ExecutionError{
		Tool:    "run_sql",
		Kind:    "sql_error",
		Message: `relation "orders" does not exist`,
		Details: map[string]interface{}{"code": "42P01", "position": "15"},
	})
	ex := New(registryWith(t, sql))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "run_sql"})})
	require.NoError(t, err)
	obsErr := res.Observations[0].Error
	require.NotNil(t, obsErr)
	assert.Equal(t, "sql_error", obsErr.Kind)
	assert.Equal(t, "42P01", obsErr.Details["code"])
}

func TestExecuteUnknownToolRecordsFailure(t *testing.T) {
	ex := New(registryWith(t, newScripted("search_documents", false)))

	res, err := ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "missing"})})
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, models.ErrorKindUnknownTool, res.Observations[0].Error.Kind)
}

func TestExecuteJournalsAndStreamsObservations(t *testing.T) {
	journal := &stubJournal{appendErr: errors.New("redis down")}
	sql := failing("run_sql", true, 1)
	ex := New(registryWith(t, sql), WithRepairer(&stubRepairer{}), WithJournal(journal))

	var streamed []models.Observation
	res, err := ex.Execute(context.Background(), Request{
		RunID:         "trace-9",
		Plan:          planOf(models.ToolCall{ToolName: "run_sql"}),
		OnObservation: func(o models.Observation) { streamed = append(streamed, o) },
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllSucceeded, res.Outcome)
	assert.Equal(t, []string{
		"start:trace-9:1",
		"attempt:0:1:failed",
		"attempt:0:2:succeeded",
		"finish:all_succeeded",
	}, journal.events)
	require.Len(t, streamed, 2)
	assert.Equal(t, res.Observations[0].AttemptCount, streamed[0].AttemptCount)
	assert.Equal(t, res.Observations[1].Status, streamed[1].Status)
}

func TestPrometheusMetricsCountAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	sql := failing("run_sql", true, 1)
	ex := New(registryWith(t, sql), WithRepairer(&stubRepairer{}), WithMetrics(metrics))
	_, err = ex.Execute(context.Background(), Request{Plan: planOf(models.ToolCall{ToolName: "run_sql"})})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	totals := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				totals[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, totals["atlas_executor_attempts_total"])
	assert.Equal(t, 1.0, totals["atlas_executor_repairs_total"])
	assert.Equal(t, 1.0, totals["atlas_executor_plans_total"])

	_, err = NewPrometheusMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}
