package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results.
const (
	ResultOK     = "ok"
	ResultDenied = "denied"
	ResultError  = "error"
)

var (
	registerOnce sync.Once

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upgrade",
			Name:      "operations_total",
			Help:      "Template upgrade operations by result.",
		},
		[]string{"operation", "result"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upgrade",
			Name:      "operation_duration_seconds",
			Help:      "Template upgrade operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	systemState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "upgrade",
			Name:      "system_state",
			Help:      "1 for the current global upgrade state, 0 otherwise.",
		},
		[]string{"state"},
	)
	nestedDeployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upgrade",
			Name:      "nested_deployments_total",
			Help:      "Nested deployments created by rollouts and promotions.",
		},
		[]string{"kind", "env"},
	)
)

// RegisterMetrics registers the collectors with the default Prometheus
// registry. It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operations, operationDuration, systemState, nestedDeployments)
	})
}

// RecordOperation counts one operation under its result and observes its
// duration.
func RecordOperation(operation, result string, duration time.Duration) {
	RegisterMetrics()
	operations.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSystemState sets the gauge of state to 1 and every other known
// state to 0.
func RecordSystemState(state string, known []string) {
	RegisterMetrics()
	for _, s := range known {
		systemState.WithLabelValues(s).Set(0)
	}
	systemState.WithLabelValues(state).Set(1)
}

// RecordNestedDeployments adds n nested deployments created in env for a
// template deployment of kind. Non-positive counts are ignored.
func RecordNestedDeployments(kind, env string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	nestedDeployments.WithLabelValues(kind, env).Add(float64(n))
}
