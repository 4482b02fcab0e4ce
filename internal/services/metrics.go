package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts endpoint probes.
	// Labels: service, result (reachable, unreachable)
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "services",
			Name:      "probes_total",
			Help:      "Total number of service endpoint probes",
		},
		[]string{"service", "result"},
	)

	// LaunchesTotal counts container launches.
	// Labels: service, launcher, result (success, error)
	LaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "services",
			Name:      "launches_total",
			Help:      "Total number of service container launches",
		},
		[]string{"service", "launcher", "result"},
	)

	// TeardownsTotal counts container stops at session end.
	// Labels: service, result (success, error)
	TeardownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "services",
			Name:      "teardowns_total",
			Help:      "Total number of service containers stopped at session end",
		},
		[]string{"service", "result"},
	)

	// BootstrapDuration tracks time spent in EnsureRunning, settle delay
	// included.
	// Labels: service
	BootstrapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storeharness",
			Subsystem: "services",
			Name:      "bootstrap_duration_seconds",
			Help:      "Duration of service bootstraps in seconds",
			Buckets:   []float64{0.01, 0.1, 1, 5, 10, 30, 60, 120},
		},
		[]string{"service"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func recordProbe(service string, err error) {
	if err != nil {
		ProbesTotal.WithLabelValues(service, "unreachable").Inc()
		return
	}
	ProbesTotal.WithLabelValues(service, "reachable").Inc()
}

func recordLaunch(service, launcher string, err error) {
	LaunchesTotal.WithLabelValues(service, launcher, result(err)).Inc()
}

func recordTeardown(service string, err error) {
	TeardownsTotal.WithLabelValues(service, result(err)).Inc()
}
