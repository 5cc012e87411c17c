package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// Metrics aggregates optional run-level telemetry callbacks.
type Metrics struct {
	Run        func(context.Context, models.Outcome, time.Duration)
	TraceWrite func(context.Context, error)
}

// NewPrometheusMetrics registers run collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (Metrics, error) {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Completed runs by trace outcome.",
	}, []string{"outcome"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "atlas",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Wall time of runs from trace open to seal.",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})
	writeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "orchestrator",
		Name:      "trace_write_failures_total",
		Help:      "Sealed traces that could not be persisted.",
	})
	for _, c := range []prometheus.Collector{runs, durations, writeFailures} {
		if err := reg.Register(c); err != nil {
			return Metrics{}, err
		}
	}
	return Metrics{
		Run: func(_ context.Context, o models.Outcome, d time.Duration) {
			runs.WithLabelValues(string(o)).Inc()
			durations.WithLabelValues(string(o)).Observe(d.Seconds())
		},
		TraceWrite: func(_ context.Context, err error) {
			if err != nil {
				writeFailures.Inc()
			}
		},
	}, nil
}
