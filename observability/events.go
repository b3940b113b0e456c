package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	committed *prometheus.CounterVec
	discarded prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed node events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendfarm",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of events delivered after their action committed, by type.",
			}, []string{"type"}),
			discarded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendfarm",
				Subsystem: "events",
				Name:      "discarded_total",
				Help:      "Count of events dropped because their action failed.",
			}),
		}
		prometheus.MustRegister(eventRegistry.committed, eventRegistry.discarded)
	})
	return eventRegistry
}

// RecordCommitted increments the counter for the supplied event type.
func (m *eventMetrics) RecordCommitted(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.committed.WithLabelValues(normalized).Inc()
}

// RecordDiscarded counts events dropped with a failed action.
func (m *eventMetrics) RecordDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discarded.Add(float64(n))
}
