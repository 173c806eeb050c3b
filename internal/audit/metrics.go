package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentagent"

var (
	entriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_recorded_total",
			Help:      "Total audit entries written",
		},
		[]string{"action"},
	)

	entriesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_failed_total",
			Help:      "Audit writes that failed and were swallowed",
		},
	)

	entriesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_pruned_total",
			Help:      "Audit entries removed by retention pruning",
		},
	)
)
