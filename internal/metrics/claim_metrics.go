package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var (
	// Refresh metrics
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_refresh_total",
			Help: "Total number of claim refresh attempts by result",
		},
		[]string{"result"}, // success, untrusted, offline, error
	)

	RefreshDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claimguard_refresh_duration_seconds",
			Help:    "Duration of claim refresh attempts",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)

	SnapshotGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimguard_snapshot_generation",
			Help: "Generation of the active claim snapshot",
		},
	)

	// Ensure metrics
	EnsureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_ensure_total",
			Help: "Total number of claim checks by operation and result",
		},
		[]string{"op", "result"},
	)

	TransactionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimguard_transactions_open",
			Help: "Number of open ensure transactions",
		},
	)

	ReadinessState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claimguard_readiness_state",
			Help: "Readiness state of the claim engine (1 for the current state)",
		},
		[]string{"state"},
	)
)

var readinessStates = []ensure.ReadinessState{
	ensure.StateUninitialized,
	ensure.StateInitializing,
	ensure.StateReady,
	ensure.StateFailed,
}

// RecordRefresh records one refresh attempt.
func RecordRefresh(result string, generation uint64, d time.Duration) {
	RefreshTotal.WithLabelValues(result).Inc()
	RefreshDurationSeconds.Observe(d.Seconds())
	SnapshotGeneration.Set(float64(generation))
}

// RecordEnsure records one evaluated claim check.
func RecordEnsure(op string, code ensure.ErrNumeric) {
	result := "ok"
	if code != ensure.StatusSuccess {
		result = code.String()
	}
	EnsureTotal.WithLabelValues(op, result).Inc()
}

// RecordTransactionsOpen sets the number of open transactions.
func RecordTransactionsOpen(n int) {
	TransactionsOpen.Set(float64(n))
}

// RecordReadinessState marks state as the current readiness state.
func RecordReadinessState(state ensure.ReadinessState) {
	for _, s := range readinessStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ReadinessState.WithLabelValues(s.String()).Set(v)
	}
}

// Observer exports engine events through the package collectors.
type Observer struct{}

var _ ensure.Observer = Observer{}

func (Observer) RefreshCompleted(result string, generation uint64, d time.Duration) {
	RecordRefresh(result, generation, d)
}

func (Observer) EnsureEvaluated(op string, code ensure.ErrNumeric) {
	RecordEnsure(op, code)
}

func (Observer) TransactionsOpen(n int) {
	RecordTransactionsOpen(n)
}

func (Observer) StateChanged(state ensure.ReadinessState) {
	RecordReadinessState(state)
}
