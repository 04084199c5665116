package pciv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	tracer = otel.Tracer("planning-core.pciv")

	// transitionsTotal counts lifecycle operations by operation and outcome
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pciv_transitions_total",
		Help: "PCIV lifecycle operations by operation and outcome",
	}, []string{"operation", "outcome"})

	claimsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pciv_claims_extracted_total",
		Help: "Claims proposed by extraction",
	})

	constraintsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pciv_constraints_confirmed_total",
		Help: "Constraints created by confirmation",
	})
)
