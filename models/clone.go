package models

import "encoding/json"

// CloneArguments deep-copies a JSON-shaped argument map.
func CloneArguments(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneArguments(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// CloneToolCall returns a copy that shares no mutable state with call.
func CloneToolCall(call ToolCall) ToolCall {
	call.Arguments = CloneArguments(call.Arguments)
	return call
}

// ClonePlan returns a deep copy of p.
func ClonePlan(p Plan) Plan {
	if p.Calls == nil {
		return Plan{}
	}
	calls := make([]ToolCall, len(p.Calls))
	for i := range p.Calls {
		calls[i] = CloneToolCall(p.Calls[i])
	}
	return Plan{Calls: calls}
}

// CloneObservation returns a deep copy of o.
func CloneObservation(o Observation) Observation {
	o.Arguments = CloneArguments(o.Arguments)
	if o.Result != nil {
		r := *o.Result
		if r.Output != nil {
			r.Output = append(json.RawMessage(nil), r.Output...)
		}
		if r.Evidence != nil {
			r.Evidence = append([]Evidence(nil), r.Evidence...)
		}
		o.Result = &r
	}
	if o.Error != nil {
		e := *o.Error
		e.Details = CloneArguments(e.Details)
		o.Error = &e
	}
	return o
}

// CloneTrace returns a deep copy of t so sealed traces can be handed out safely.
func CloneTrace(t AgentTrace) AgentTrace {
	t.Plan = ClonePlan(t.Plan)
	if t.Observations != nil {
		obs := make([]Observation, len(t.Observations))
		for i := range t.Observations {
			obs[i] = CloneObservation(t.Observations[i])
		}
		t.Observations = obs
	}
	if t.Citations != nil {
		t.Citations = append([]Citation(nil), t.Citations...)
	}
	return t
}
