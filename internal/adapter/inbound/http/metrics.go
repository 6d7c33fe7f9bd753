// Package http provides the HTTP inbound adapter: the /api/v1 check
// surface, admin routes, and the health/metrics endpoints (spec §6).
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric PolicyShield's HTTP boundary
// records. Passed to the middleware and handlers that produce them.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CheckVerdictsTotal *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	PendingApprovals  prometheus.Gauge
	TraceDropsTotal   prometheus.Counter
}

// NewMetrics creates and registers every metric with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "policyshield",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "policyshield",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		CheckVerdictsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "policyshield",
				Name:      "check_verdicts_total",
				Help:      "Total check verdicts returned, by verdict",
			},
			[]string{"verdict"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "policyshield",
				Name:      "active_sessions",
				Help:      "Number of sessions currently tracked",
			},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "policyshield",
				Name:      "pending_approvals",
				Help:      "Number of approvals currently awaiting a decision",
			},
		),
		TraceDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "policyshield",
				Name:      "trace_drops_total",
				Help:      "Total trace records dropped due to a recorder error",
			},
		),
	}
}
