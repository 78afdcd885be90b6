// Package metrics registers the prometheus collectors the reconciler and
// Janitor publish to, grounded on ConfigButler-gitops-reverser's
// prometheus/client_golang dependency (SPEC_FULL.md §4.6).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_reconcile_total",
		Help: "Session reconciliations, labeled by outcome (active, dead).",
	}, []string{"outcome"})

	ReconcileDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_reconcile_duration_seconds",
		Help:    "Wall-clock duration of ensure_session_container invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	OrphansReapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_orphans_reaped_total",
		Help: "Orphaned pty-mux sessions killed and orphaned containers destroyed by Janitor sweeps, labeled by reason.",
	}, []string{"reason"})

	JanitorSweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_janitor_sweep_duration_seconds",
		Help:    "Wall-clock duration of a full Janitor sweep.",
		Buckets: prometheus.DefBuckets,
	})

	SessionsMarkedDeadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_sessions_marked_dead_total",
		Help: "Sessions Janitor transitioned to dead because their container was not running or gone.",
	}, []string{"reason"})
)
