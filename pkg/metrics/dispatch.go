package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics records outbox dispatcher activity on the terminal side.
type DispatchMetrics struct {
	roundTrip   *prometheus.HistogramVec
	acked       *prometheus.CounterVec
	failed      *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
}

// NewDispatchMetrics registers the dispatcher metrics on the provided
// registerer. A nil registerer yields a no-op collector set.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	roundTrip := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_round_trip_seconds",
		Help:    "Duration of one batch submission round trip.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	acked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_acked_total",
		Help: "Events acknowledged by the server.",
	}, []string{"status"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_batches_failed_total",
		Help: "Batch submissions that failed in transit.",
	}, []string{"kind"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_dead_lettered_total",
		Help: "Events moved to the local dead-letter list.",
	}, []string{"reason"})
	reg.MustRegister(roundTrip, acked, failed, deadLetters)
	return &DispatchMetrics{
		roundTrip:   roundTrip,
		acked:       acked,
		failed:      failed,
		deadLetters: deadLetters,
	}
}

// ObserveRoundTrip records a batch round-trip duration.
func (m *DispatchMetrics) ObserveRoundTrip(outcome string, d time.Duration) {
	if m == nil || m.roundTrip == nil {
		return
	}
	m.roundTrip.WithLabelValues(normalizeLabel(outcome)).Observe(d.Seconds())
}

// IncAcked counts an acknowledged event by outcome status.
func (m *DispatchMetrics) IncAcked(status string) {
	if m == nil || m.acked == nil {
		return
	}
	m.acked.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncFailed counts a failed batch submission.
func (m *DispatchMetrics) IncFailed(kind string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncDeadLettered counts an event parked in the dead-letter list.
func (m *DispatchMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
