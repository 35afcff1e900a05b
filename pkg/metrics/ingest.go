package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
)

// IngestMetrics records pipeline outcomes and timings.
type IngestMetrics struct {
	outcomes       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	lockContention prometheus.Counter
	deadLetters    prometheus.Counter
	replays        prometheus.Counter
}

// NewIngestMetrics registers the ingestion metrics on the provided registerer.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_outcomes_total",
		Help: "Terminal pipeline outcomes by result.",
	}, []string{"outcome", "source"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_duration_seconds",
		Help:    "Duration of one pipeline run in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	lockContention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_lock_contention_total",
		Help: "Messages skipped because another worker held the lock.",
	})
	deadLetters := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_dead_letters_total",
		Help: "Messages parked after exhausting their retry budget.",
	})
	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_replays_total",
		Help: "Dead-letter messages replayed by an operator.",
	})
	reg.MustRegister(outcomes, duration, lockContention, deadLetters, replays)
	return &IngestMetrics{
		outcomes:       outcomes,
		duration:       duration,
		lockContention: lockContention,
		deadLetters:    deadLetters,
		replays:        replays,
	}
}

// ObserveOutcome counts one terminal pipeline result.
func (m *IngestMetrics) ObserveOutcome(outcome enums.IngestOutcome, source string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome.String(), normalizeLabel(source)).Inc()
}

// ObserveDuration records the wall time of one pipeline run.
func (m *IngestMetrics) ObserveDuration(source string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(duration.Seconds())
}

// IncLockContention counts a lock-held skip.
func (m *IngestMetrics) IncLockContention() {
	if m == nil || m.lockContention == nil {
		return
	}
	m.lockContention.Inc()
}

// IncDeadLetter counts a parked message.
func (m *IngestMetrics) IncDeadLetter() {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.Inc()
}

// IncReplay counts an operator-triggered replay.
func (m *IngestMetrics) IncReplay() {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
