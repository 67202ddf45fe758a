package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all HTTP-level Prometheus metrics for ToolBridge.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensIssued    *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbridge",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // method=POST, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolbridge",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		TokensIssued: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbridge",
				Name:      "oauth_tokens_issued_total",
				Help:      "Total token responses issued by grant type",
			},
			[]string{"grant_type"}, // authorization_code/refresh_token
		),
		AuthFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbridge",
				Name:      "auth_failures_total",
				Help:      "Total rejected protocol requests by reason",
			},
			[]string{"reason"}, // missing_token/invalid_token/expired/denied
		),
	}
}
