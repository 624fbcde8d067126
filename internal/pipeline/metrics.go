package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/roach88/qrecall/internal/pipeline")

var (
	// opDuration records wall time per composed child operation.
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qrecall_op_duration_seconds",
		Help:    "Wall time of operations run inside a Sequence or Branch",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// opErrors counts child operation failures by error kind.
	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_op_errors_total",
		Help: "Operation failures observed by composition operators",
	}, []string{"op", "kind"})

	// GateOutcomes counts gate evaluations by result.
	GateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_gate_outcomes_total",
		Help: "Gate evaluations by outcome (pass, recovered, failed, passthrough)",
	}, []string{"outcome"})

	// BudgetExhausted counts BudgetGuard short-circuits by reason.
	BudgetExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_budget_exhausted_total",
		Help: "BudgetGuard short-circuits by reason",
	}, []string{"reason"})
)
