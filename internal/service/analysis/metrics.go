package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sod",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Total number of analysis runs",
		},
		[]string{"status"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sod",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "End-to-end analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	violationsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sod",
			Subsystem: "analysis",
			Name:      "violations_detected_total",
			Help:      "Violations detected across all runs",
		},
		[]string{"level", "risk"},
	)

	storedRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sod",
			Subsystem: "analysis",
			Name:      "stored_runs",
			Help:      "Runs currently held in the in-memory store",
		},
	)
)
