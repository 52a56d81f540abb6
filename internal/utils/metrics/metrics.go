package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "identity",
		Name:      "active_sessions",
		Help:      "Currently active sessions.",
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"bucket"})

	AuditEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "audit_events_total",
		Help:      "Audit events emitted by action.",
	}, []string{"action"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "identity",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
