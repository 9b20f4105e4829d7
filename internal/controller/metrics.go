package controller

import (
	"sync/atomic"
	"time"

	"github.com/flowlab/oauth-playground/internal/flows"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	flowStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_flow_steps_total",
			Help: "Total number of executed flow steps",
		},
		[]string{"flow", "step", "outcome"},
	)
	flowStepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_flow_step_duration_seconds",
			Help:    "Flow step latency including provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flow", "step"},
	)

	metricsRegistered atomic.Bool
)

// RegisterMetrics registers the step metrics with reg, or with the default
// registerer when reg is nil. Only the first call registers.
func RegisterMetrics(reg prometheus.Registerer) {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(flowStepsTotal, flowStepDurationSeconds)
}

func observeStep(kind flows.Kind, step flows.Step, outcome string, elapsed time.Duration) {
	flowStepsTotal.WithLabelValues(string(kind), string(step), outcome).Inc()
	flowStepDurationSeconds.WithLabelValues(string(kind), string(step)).Observe(elapsed.Seconds())
}
