package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session counters and histograms. A nil *Metrics records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	revoked  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantauth",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Session operations by operation, outcome and reason.",
		}, []string{"op", "outcome", "reason"}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantauth",
			Subsystem: "session",
			Name:      "tokens_revoked_total",
			Help:      "Refresh tokens revoked, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenantauth",
			Subsystem: "session",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session operations.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.revoked, m.duration)
	}
	return m
}

func (m *Metrics) observe(op string, res Result, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome, reason := res.Outcome.String(), res.Reason
	if err != nil {
		outcome, reason = "error", ""
	}
	m.outcomes.WithLabelValues(op, outcome, reason).Inc()
	m.duration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) revokedTokens(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(reason).Add(float64(n))
}
