package executor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	Attempt  func(context.Context, models.Observation)
	Repair   func(context.Context, models.ToolCall, int)
	Outcome  func(context.Context, Outcome)
	Duration func(context.Context, models.ToolCall, time.Duration)
}

// NewPrometheusMetrics registers executor collectors on reg and returns callbacks feeding them.
func NewPrometheusMetrics(reg prometheus.Registerer) (Metrics, error) {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "executor",
		Name:      "attempts_total",
		Help:      "Tool invocation attempts by tool and status.",
	}, []string{"tool", "status", "kind"})
	repairs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "executor",
		Name:      "repairs_total",
		Help:      "Repaired calls handed back to the tool.",
	}, []string{"tool"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "executor",
		Name:      "plans_total",
		Help:      "Executed plans by aggregate outcome.",
	}, []string{"outcome"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "atlas",
		Subsystem: "executor",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of single tool attempts.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
	for _, c := range []prometheus.Collector{attempts, repairs, outcomes, durations} {
		if err := reg.Register(c); err != nil {
			return Metrics{}, err
		}
	}
	return Metrics{
		Attempt: func(_ context.Context, obs models.Observation) {
			kind := ""
			if obs.Error != nil {
				kind = obs.Error.Kind
			}
			attempts.WithLabelValues(obs.ToolName, string(obs.Status), kind).Inc()
		},
		Repair: func(_ context.Context, call models.ToolCall, _ int) {
			repairs.WithLabelValues(call.ToolName).Inc()
		},
		Outcome: func(_ context.Context, o Outcome) {
			outcomes.WithLabelValues(string(o)).Inc()
		},
		Duration: func(_ context.Context, call models.ToolCall, d time.Duration) {
			durations.WithLabelValues(call.ToolName).Observe(d.Seconds())
		},
	}, nil
}
