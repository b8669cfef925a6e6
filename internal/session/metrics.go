package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sessionMetrics struct {
	initAttempts  *prometheus.CounterVec
	activeClients prometheus.Gauge
	criticalTrips prometheus.Counter
	sendFailures  prometheus.Counter
	initDurations prometheus.Observer
}

var (
	sessionMetricsOnce sync.Once
	sessionMetricsInst *sessionMetrics
)

func globalSessionMetrics() *sessionMetrics {
	sessionMetricsOnce.Do(func() {
		sessionMetricsInst = newSessionMetrics()
	})
	return sessionMetricsInst
}

func newSessionMetrics() *sessionMetrics {
	return &sessionMetrics{
		initAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zapdesk",
			Subsystem: "session",
			Name:      "init_attempts_total",
			Help:      "Session initialization attempts, labeled by outcome",
		}, []string{"outcome"}),
		activeClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "zapdesk",
			Subsystem: "session",
			Name:      "active_clients",
			Help:      "Provider clients currently registered",
		}),
		criticalTrips: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "zapdesk",
			Subsystem: "session",
			Name:      "critical_trips_total",
			Help:      "Times a session hit the critical error threshold",
		}),
		sendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "zapdesk",
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Outbound sends that failed after retries",
		}),
		initDurations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zapdesk",
			Subsystem: "session",
			Name:      "init_duration_seconds",
			Help:      "Time from init request to a terminal lifecycle event",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *sessionMetrics) recordInit(outcome string) {
	if m == nil {
		return
	}
	m.initAttempts.WithLabelValues(outcome).Inc()
}

func (m *sessionMetrics) timeInit() func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.initDurations)
	return func() { timer.ObserveDuration() }
}
