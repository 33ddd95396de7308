package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ojeval"

var (
	// 10ms -> 60s
	durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

	EvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Finished evaluations by verdict",
	}, []string{"status"})

	ExecutorCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_calls_total",
		Help:      "Executor adapter calls by adapter and outcome",
	}, []string{"adapter", "outcome"})

	BatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one test group",
		Buckets:   durationBuckets,
	}, []string{"adapter"})

	SimilarityFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "similarity_flags_total",
		Help:      "Similarity pairs crossing the flag threshold",
	}, []string{"kind"})

	StaleTasksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_tasks_total",
		Help:      "Evaluation tasks dropped because a newer run superseded them",
	})

	QueueDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_deliveries_total",
		Help:      "Consumed messages by topic and delivery outcome",
	}, []string{"topic", "outcome"})
)

// MustRegister registers all collectors on reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EvaluationsTotal,
		ExecutorCallsTotal,
		BatchDuration,
		SimilarityFlagsTotal,
		StaleTasksTotal,
		QueueDeliveriesTotal,
	)
}
