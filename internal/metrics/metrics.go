// Package metrics provides Prometheus metrics for the watering scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderFetchTotal tracks forecast fetches per provider by status
	ProviderFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watering",
			Subsystem: "weather",
			Name:      "provider_fetch_total",
			Help:      "Total number of forecast fetches per provider by status",
		},
		[]string{"provider", "status"},
	)

	// ReconcileOutcomesTotal tracks per-item reconciliation outcomes
	ReconcileOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watering",
			Subsystem: "schedule",
			Name:      "reconcile_outcomes_total",
			Help:      "Total number of reconciliation outcomes by operation and status",
		},
		[]string{"operation", "status"},
	)

	// ReconcileDuration tracks how long a reconciliation operation takes
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watering",
			Subsystem: "schedule",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation operations in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// TaskRunsTotal tracks background task runs by final state
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watering",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Total number of background task runs by result",
		},
		[]string{"task", "result"},
	)

	// CacheRequestsTotal tracks membership cache lookups
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watering",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// ProviderCircuitState is the circuit breaker state per provider
	// (0 closed, 1 half-open, 2 open)
	ProviderCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watering",
			Subsystem: "weather",
			Name:      "provider_circuit_state",
			Help:      "Circuit breaker state per provider: 0 closed, 1 half-open, 2 open",
		},
		[]string{"provider"},
	)
)
