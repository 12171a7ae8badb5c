package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_guard_sessions_started_total",
			Help: "Total number of guard sessions started.",
		},
	)
	sessionsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_guard_sessions_terminated_total",
			Help: "Total number of guard sessions terminated, partitioned by outcome.",
		},
		[]string{"outcome"}, // end_condition | budget | violation
	)
	violationsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_guard_violations_total",
			Help: "Total number of violations detected, partitioned by category and severity.",
		},
		[]string{"category", "severity"},
	)
	charsGuarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_guard_chars_processed_total",
			Help: "Total number of characters fed through guard machines.",
		},
	)
	textTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_guard_truncations_total",
			Help: "Total number of times accumulated text was cut by the guard.",
		},
	)
)
