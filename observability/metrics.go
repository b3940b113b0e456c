package observability

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type actionMetrics struct {
	actions   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	actionMetricsOnce sync.Once
	actionRegistry    *actionMetrics
)

// Actions returns the lazily-initialised registry recording executor actions
// and gateway throttling.
func Actions() *actionMetrics {
	actionMetricsOnce.Do(func() {
		actionRegistry = &actionMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendfarm",
				Subsystem: "executor",
				Name:      "actions_total",
				Help:      "Total executor actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendfarm",
				Subsystem: "executor",
				Name:      "failures_total",
				Help:      "Total rolled back actions segmented by action and reason.",
			}, []string{"action", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendfarm",
				Subsystem: "executor",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution for executor actions including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendfarm",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			actionRegistry.actions,
			actionRegistry.failures,
			actionRegistry.latency,
			actionRegistry.throttles,
		)
	})
	return actionRegistry
}

// Observe records the outcome of an executor action. reasons maps sentinel
// errors to stable label values; unmatched failures are labelled "other".
func (m *actionMetrics) Observe(action string, err error, duration time.Duration, reasons map[error]string) {
	if m == nil {
		return
	}
	action = normalizeLabel(action)
	outcome := "committed"
	if err != nil {
		outcome = "rolled_back"
		m.failures.WithLabelValues(action, failureReason(err, reasons)).Inc()
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *actionMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(normalizeLabel(route), reason).Inc()
}

func failureReason(err error, reasons map[error]string) string {
	for sentinel, label := range reasons {
		if errors.Is(err, sentinel) {
			return label
		}
	}
	return "other"
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
