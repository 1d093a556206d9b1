package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus counters for the recording path, namespaced
// "lgtrace" following the host graph engine's own "langgraph"-namespaced
// PrometheusMetrics (graph/metrics.go) pattern — same promauto factory,
// same per-run/per-node label shape, different metric set because this
// measures the recorder rather than the scheduler.
type Metrics struct {
	stepsRecorded       *prometheus.CounterVec
	checkpointsRecorded *prometheus.CounterVec
	diffEntrySize       *prometheus.HistogramVec
	serializationOverflow *prometheus.CounterVec
}

// NewMetrics registers the recorder's metrics with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		stepsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgtrace",
			Name:      "steps_recorded_total",
			Help:      "Total execution steps recorded, labeled by execution and node.",
		}, []string{"execution_id", "node_name", "status"}),

		checkpointsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgtrace",
			Name:      "checkpoints_total",
			Help:      "Total full-state checkpoints recorded, labeled by execution.",
		}, []string{"execution_id"}),

		diffEntrySize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lgtrace",
			Name:      "diff_entries",
			Help:      "Number of changed+added+removed entries per recorded step diff.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"execution_id"}),

		serializationOverflow: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgtrace",
			Name:      "serialization_overflow_total",
			Help:      "Steps whose serialized state exceeded the configured size limit.",
		}, []string{"execution_id", "node_name"}),
	}
}

func (m *Metrics) observeStep(step ExecutionStep) {
	if m == nil {
		return
	}
	m.stepsRecorded.WithLabelValues(step.ExecutionID, step.NodeName, string(step.Status)).Inc()
	if step.IsCheckpoint {
		m.checkpointsRecorded.WithLabelValues(step.ExecutionID).Inc()
	}
	entries := len(step.StateDiff.Changed) + len(step.StateDiff.Added) + len(step.StateDiff.Removed)
	m.diffEntrySize.WithLabelValues(step.ExecutionID).Observe(float64(entries))
	if _, overflow := step.Metadata["serialization_overflow"]; overflow {
		m.serializationOverflow.WithLabelValues(step.ExecutionID, step.NodeName).Inc()
	}
}
