// Package oracletest provides deterministic planning and synthesis oracles for tests.
package oracletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/srinidhi621/knowledge-atlas/internal/planner"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

// PlanResponse configures one ProposePlan turn.
type PlanResponse struct {
	Calls []planner.ProposedCall
	Err   error
}

// RepairResponse configures one RepairStep turn.
type RepairResponse struct {
	Call planner.ProposedCall
	Err  error
}

// ScriptedPlanner replays plan and repair responses in order and records every request.
type ScriptedPlanner struct {
	mu          sync.Mutex
	plans       []PlanResponse
	repairs     []RepairResponse
	planIndex   int
	repairIndex int

	PlanRequests   []planner.PlanRequest
	RepairRequests []planner.RepairRequest
}

var _ planner.Oracle = (*ScriptedPlanner)(nil)

// NewScriptedPlanner returns an oracle that answers ProposePlan with plans in order.
func NewScriptedPlanner(plans ...PlanResponse) *ScriptedPlanner {
	cloned := make([]PlanResponse, len(plans))
	copy(cloned, plans)
	return &ScriptedPlanner{plans: cloned}
}

// Plan is shorthand for a successful PlanResponse.
func Plan(calls ...planner.ProposedCall) PlanResponse {
	return PlanResponse{Calls: calls}
}

// Call builds a proposed call.
func Call(toolName string, args map[string]interface{}) planner.ProposedCall {
	return planner.ProposedCall{ToolName: toolName, Arguments: args}
}

// RequiredCall builds a proposed call marked required.
func RequiredCall(toolName string, args map[string]interface{}) planner.ProposedCall {
	return planner.ProposedCall{ToolName: toolName, Arguments: args, Required: true}
}

// WithRepairs appends repair responses to the script.
func (s *ScriptedPlanner) WithRepairs(repairs ...RepairResponse) *ScriptedPlanner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs = append(s.repairs, repairs...)
	return s
}

func (s *ScriptedPlanner) ProposePlan(_ context.Context, req planner.PlanRequest) ([]planner.ProposedCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlanRequests = append(s.PlanRequests, req)
	if s.planIndex >= len(s.plans) {
		return nil, fmt.Errorf("plan script exhausted at turn %d", s.planIndex+1)
	}
	current := s.plans[s.planIndex]
	s.planIndex++
	if current.Err != nil {
		return nil, current.Err
	}
	out := make([]planner.ProposedCall, len(current.Calls))
	for i, c := range current.Calls {
		c.Arguments = models.CloneArguments(c.Arguments)
		out[i] = c
	}
	return out, nil
}

func (s *ScriptedPlanner) RepairStep(_ context.Context, req planner.RepairRequest) (planner.ProposedCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RepairRequests = append(s.RepairRequests, req)
	if s.repairIndex >= len(s.repairs) {
		return planner.ProposedCall{}, fmt.Errorf("repair script exhausted at turn %d", s.repairIndex+1)
	}
	current := s.repairs[s.repairIndex]
	s.repairIndex++
	if current.Err != nil {
		return planner.ProposedCall{}, current.Err
	}
	current.Call.Arguments = models.CloneArguments(current.Call.Arguments)
	return current.Call, nil
}

// RepairCount returns how many repair requests were made.
func (s *ScriptedPlanner) RepairCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RepairRequests)
}

// SynthesisResponse configures one Synthesize turn.
type SynthesisResponse struct {
	Text string
	Err  error
}

// ScriptedSynthesis replays answers in order.
type ScriptedSynthesis struct {
	mu        sync.Mutex
	responses []SynthesisResponse
	index     int

	Calls [][]models.Observation
}

var _ synthesis.Oracle = (*ScriptedSynthesis)(nil)

// NewScriptedSynthesis returns a synthesis oracle answering with responses in order.
func NewScriptedSynthesis(responses ...SynthesisResponse) *ScriptedSynthesis {
	cloned := make([]SynthesisResponse, len(responses))
	copy(cloned, responses)
	return &ScriptedSynthesis{responses: cloned}
}

// Answer is shorthand for a successful SynthesisResponse.
func Answer(text string) SynthesisResponse {
	return SynthesisResponse{Text: text}
}

func (s *ScriptedSynthesis) Synthesize(_ context.Context, _ string, observations []models.Observation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs := make([]models.Observation, len(observations))
	for i := range observations {
		obs[i] = models.CloneObservation(observations[i])
	}
	s.Calls = append(s.Calls, obs)
	if s.index >= len(s.responses) {
		return "", fmt.Errorf("synthesis script exhausted at turn %d", s.index+1)
	}
	current := s.responses[s.index]
	s.index++
	return current.Text, current.Err
}

// CallCount returns how many times Synthesize was invoked.
func (s *ScriptedSynthesis) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
