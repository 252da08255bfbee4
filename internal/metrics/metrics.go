// Package metrics provides Prometheus collectors for the capsule engine.
//
// A nil *Metrics is valid and records nothing, so engines can be built
// without a registry in tests and one-shot CLI commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tcap"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics holds all Prometheus collectors for engine operations.
type Metrics struct {
	// SnapshotsTotal counts capture attempts.
	// Labels: trigger (manual, scheduled), result (success, error, skipped)
	SnapshotsTotal *prometheus.CounterVec

	// RestoresTotal counts restore attempts.
	// Labels: policy, result (success, error)
	RestoresTotal *prometheus.CounterVec

	// RetentionRunsTotal counts processed scheduler periods.
	// Labels: result (success, error, skipped)
	RetentionRunsTotal *prometheus.CounterVec

	// RetentionDeletedTotal counts scheduled capsules removed by cleanup.
	RetentionDeletedTotal prometheus.Counter

	// OperationDuration measures engine operation latency.
	// Labels: op (snapshot, diff, restore, retention)
	OperationDuration *prometheus.HistogramVec
}

// New registers the engine collectors with reg and returns them.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Total capsule captures by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		RestoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restores_total",
				Help:      "Total restores by conflict policy and result",
			},
			[]string{"policy", "result"},
		),
		RetentionRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_runs_total",
				Help:      "Total retention scheduler periods processed by result",
			},
			[]string{"result"},
		),
		RetentionDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Total scheduled capsules deleted by retention cleanup",
			},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// ObserveSnapshot records one capture attempt.
func (m *Metrics) ObserveSnapshot(trigger, result string, started time.Time) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(trigger, result).Inc()
	m.OperationDuration.WithLabelValues("snapshot").Observe(time.Since(started).Seconds())
}

// ObserveRestore records one restore attempt.
func (m *Metrics) ObserveRestore(policy, result string, started time.Time) {
	if m == nil {
		return
	}
	m.RestoresTotal.WithLabelValues(policy, result).Inc()
	m.OperationDuration.WithLabelValues("restore").Observe(time.Since(started).Seconds())
}

// ObserveDiff records diff latency.
func (m *Metrics) ObserveDiff(started time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues("diff").Observe(time.Since(started).Seconds())
}

// ObserveRetention records one processed scheduler period and its deletions.
func (m *Metrics) ObserveRetention(result string, deleted int, started time.Time) {
	if m == nil {
		return
	}
	m.RetentionRunsTotal.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.RetentionDeletedTotal.Add(float64(deleted))
	}
	m.OperationDuration.WithLabelValues("retention").Observe(time.Since(started).Seconds())
}
