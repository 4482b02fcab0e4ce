package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstancesTotal counts expanded test instances.
	// Labels: backend ("" for backend-free tests), decision (run, skip)
	InstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storeharness",
			Subsystem: "harness",
			Name:      "instances_total",
			Help:      "Total number of test instances by backend and run/skip decision",
		},
		[]string{"backend", "decision"},
	)
)

func recordDecision(inst Instance) {
	decision := "run"
	if inst.Skipped() {
		decision = "skip"
	}
	InstancesTotal.WithLabelValues(string(inst.Backend), decision).Inc()
}
