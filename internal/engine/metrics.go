package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	tracer = otel.Tracer("planning-core.engine")

	// stepsTotal counts step transitions by agent and resulting status
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_steps_total",
		Help: "Decision program step transitions by agent and status",
	}, []string{"agent", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_step_duration_seconds",
		Help:    "Agent execution time per step",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_runs_finished_total",
		Help: "Run loop exits by run status",
	}, []string{"status"})
)
