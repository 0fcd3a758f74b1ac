package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the badge engine.
type Metrics struct {
	EventsProcessed        *prometheus.CounterVec
	RequirementsFulfilled  prometheus.Counter
	RequirementsRegressed  prometheus.Counter
	ProgressCompleted      prometheus.Counter
	ProgressRegressed      prometheus.Counter
	ProcessingDuration     prometheus.Histogram
}

// New creates and registers all badge engine metrics.
func New() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insignia_events_processed_total",
			Help: "Inbound badging events by event type and processing result.",
		}, []string{"event_type", "result"}),
		RequirementsFulfilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "insignia_requirements_fulfilled_total",
			Help: "Requirement fulfillments created.",
		}),
		RequirementsRegressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "insignia_requirements_regressed_total",
			Help: "Requirement fulfillments removed by penalties or resets.",
		}),
		ProgressCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "insignia_progress_completed_total",
			Help: "Badge templates that crossed into the complete state.",
		}),
		ProgressRegressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "insignia_progress_incomplete_total",
			Help: "Badge templates that regressed out of the complete state.",
		}),
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "insignia_event_processing_seconds",
			Help:    "Wall time spent processing one inbound event.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveEvent records one processed event.
func (m *Metrics) ObserveEvent(eventType, result string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, result).Inc()
	m.ProcessingDuration.Observe(seconds)
}

func (m *Metrics) CountFulfilled() {
	if m != nil {
		m.RequirementsFulfilled.Inc()
	}
}

func (m *Metrics) CountRegressed() {
	if m != nil {
		m.RequirementsRegressed.Inc()
	}
}

func (m *Metrics) CountCompleted() {
	if m != nil {
		m.ProgressCompleted.Inc()
	}
}

func (m *Metrics) CountIncomplete() {
	if m != nil {
		m.ProgressRegressed.Inc()
	}
}
