package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srinidhi621/knowledge-atlas/config"
	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

type chatServer struct {
	mu      sync.Mutex
	replies []string
	status  int
	bodies  []map[string]interface{}
	auth    []string
}

func (s *chatServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.bodies = append(s.bodies, body)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
		return
	}
	reply := ""
	if len(s.replies) > 0 {
		reply, s.replies = s.replies[0], s.replies[1:]
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{{"message": map[string]string{"content": reply}}},
		"usage":   map[string]int{"prompt_tokens": 11, "completion_tokens": 7},
	})
}

func newTestProvider(t *testing.T, s *chatServer) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Models:  map[string]config.LLMModel{"planner": {Name: "gpt-test", Temperature: 0.1}},
	})
}

func TestProviderComplete(t *testing.T) {
	s := &chatServer{replies: []string{"hello"}}
	p := newTestProvider(t, s)

	out, err := p.Complete(context.Background(), "planner", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, int64(11), out.PromptTokens)
	assert.Equal(t, int64(7), out.CompletionTokens)
	require.Len(t, s.bodies, 1)
	assert.Equal(t, "gpt-test", s.bodies[0]["model"])
	assert.Equal(t, "Bearer test-key", s.auth[0])
}

func TestProviderErrors(t *testing.T) {
	s := &chatServer{status: http.StatusTooManyRequests}
	p := newTestProvider(t, s)

	_, err := p.Complete(context.Background(), "planner", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = p.Complete(context.Background(), "unknown", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestNewProviderResolvesModel(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		"main": {Type: "openai", Models: map[string]config.LLMModel{"planner": {Name: "x"}}},
	}}
	_, err := NewProvider(cfg, "planner")
	require.NoError(t, err)
	_, err = NewProvider(cfg, "missing")
	require.Error(t, err)
}

func TestExtractFirstJSON(t *testing.T) {
	cases := map[string]string{
		`noise {"a":1} trailing {"b":2}`:     `{"a":1}`,
		`{"s":"brace } inside","n":{"x":1}}`: `{"s":"brace } inside","n":{"x":1}}`,
		`{"s":"quote \" and }"}`:             `{"s":"quote \" and }"}`,
		`no json here`:                       ``,
		`{"open": true`:                      ``,
	}
	for in, want := range cases {
		assert.Equal(t, want, extractFirstJSON(in), in)
	}
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
}

func TestPlanningOracleProposePlan(t *testing.T) {
	reply := "Here is the plan:\n```json\n" + `{"calls":[{"tool_name":"search_documents","arguments":{"query":"revenue","limit":3},"required":true}],"reasoning":"look it up"}` + "\n```"
	s := &chatServer{replies: []string{reply}}
	o := NewPlanningOracle(newTestProvider(t, s), "planner", "", nil)

	calls, err := o.ProposePlan(context.Background(), planner.PlanRequest{
		Query:           "What was revenue?",
		Catalog:         []models.ToolDefinition{{Name: "search_documents", Description: "full text search"}},
		NotebookSummary: "FY2023 filings",
		Prior:           &models.AgentTrace{Query: "earlier", FinalAnswer: "before"},
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "search_documents", calls[0].ToolName)
	assert.True(t, calls[0].Required)
	assert.Equal(t, float64(3), calls[0].Arguments["limit"])

	prompt := promptOf(t, s, 0)
	assert.Contains(t, prompt, "search_documents")
	assert.Contains(t, prompt, "FY2023 filings")
	assert.Contains(t, prompt, "Previous question: earlier")
}

func TestPlanningOracleRejectsInvalidResponse(t *testing.T) {
	s := &chatServer{replies: []string{`{"calls":[{"arguments":{}}]}`, `sorry, no plan`}}
	o := NewPlanningOracle(newTestProvider(t, s), "planner", "", nil)

	_, err := o.ProposePlan(context.Background(), planner.PlanRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")

	_, err = o.ProposePlan(context.Background(), planner.PlanRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestPlanningOracleRepairStep(t *testing.T) {
	s := &chatServer{replies: []string{`{"tool_name":"run_sql","arguments":{"sql":"SELECT 1"}}`}}
	o := NewPlanningOracle(newTestProvider(t, s), "planner", "", nil)

	call, err := o.RepairStep(context.Background(), planner.RepairRequest{
		Query:    "q",
		Tool:     models.ToolDefinition{Name: "run_sql", Repairable: true},
		Original: models.ToolCall{ToolName: "run_sql", Arguments: map[string]interface{}{"sql": "SELEC 1"}, Required: true},
		Error:    models.ObservationError{Kind: "sql_error", Message: "syntax error at or near \"SELEC\""},
		Attempt:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "run_sql", call.ToolName)
	assert.Equal(t, "SELECT 1", call.Arguments["sql"])
	assert.True(t, call.Required)
	assert.Contains(t, promptOf(t, s, 0), "SELEC 1")
}

func TestSynthesisOraclePromptCarriesEvidence(t *testing.T) {
	s := &chatServer{replies: []string{"  Revenue was $4.2B [cite:10-K.pdf#7].  "}}
	o := NewSynthesisOracle(newTestProvider(t, s), "planner", nil)

	obs := []models.Observation{
		{StepIndex: 0, ToolName: "search_documents", Status: models.StepSucceeded, AttemptCount: 1,
			Result: &models.ToolResult{Evidence: []models.Evidence{{SourceID: "10-K.pdf", ChunkIndex: 7, PageOrSection: "p. 41", Text: "Revenue $4.2B"}}}},
		{StepIndex: 1, ToolName: "run_sql", Status: models.StepFailed, AttemptCount: 1,
			Error: &models.ObservationError{Kind: "sql_error", Message: "bad"}},
	}
	text, err := o.Synthesize(context.Background(), "What was revenue?", obs)
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $4.2B [cite:10-K.pdf#7].", text)

	prompt := promptOf(t, s, 0)
	assert.Contains(t, prompt, "[cite:10-K.pdf#7@p. 41]")
	assert.Contains(t, prompt, "sql_error: bad")
	system := s.bodies[0]["messages"].([]interface{})[0].(map[string]interface{})["content"].(string)
	assert.Contains(t, system, synthesis.MarkerFormat)
}

func promptOf(t *testing.T, s *chatServer, i int) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.bodies), i)
	msgs := s.bodies[i]["messages"].([]interface{})
	var parts []string
	for _, m := range msgs {
		parts = append(parts, m.(map[string]interface{})["content"].(string))
	}
	return strings.Join(parts, "\n")
}
