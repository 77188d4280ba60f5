package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics records server-side batch ingestion outcomes.
type IngestMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewIngestMetrics registers the ingestion metrics on the provided
// registerer. A nil registerer yields a no-op collector set.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_event_outcomes_total",
		Help: "Per-event ingestion outcomes.",
	}, []string{"status", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_batch_duration_seconds",
		Help:    "Duration of batch ingestion transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"store"})
	reg.MustRegister(outcomes, duration)
	return &IngestMetrics{outcomes: outcomes, duration: duration}
}

// IncOutcome counts one per-event outcome.
func (m *IngestMetrics) IncOutcome(status, reason string) {
	if m == nil || m.outcomes == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.outcomes.WithLabelValues(normalizeLabel(status), reason).Inc()
}

// ObserveBatch records how long a batch transaction took.
func (m *IngestMetrics) ObserveBatch(store string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(store)).Observe(d.Seconds())
}
