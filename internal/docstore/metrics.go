package docstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoresCreated counts factory outcomes.
	// Labels: kind, result (success, error)
	StoresCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "docstore",
			Name:      "stores_created_total",
			Help:      "Total number of document store handles requested from the factory",
		},
		[]string{"kind", "result"},
	)

	// OperationDuration tracks store call latency.
	// Labels: kind, operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storeharness",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of document store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "operation"},
	)

	// OperationErrors counts failed store calls.
	// Labels: kind, operation
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "docstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed document store operations",
		},
		[]string{"kind", "operation"},
	)
)

// RecordCreate records the outcome of a Factory.Create call.
func RecordCreate(kind Kind, err error) {
	if err != nil {
		StoresCreated.WithLabelValues(string(kind), "error").Inc()
		return
	}
	StoresCreated.WithLabelValues(string(kind), "success").Inc()
}
