package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	SessionsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Sessions issued, by trigger (register, login, refresh).",
		},
		[]string{"trigger"},
	)
	RefreshReuseDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_refresh_reuse_detected_total",
			Help: "Refresh token reuse events that triggered mass revocation.",
		},
	)
)

func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestCount, RequestDuration, SessionsIssued, RefreshReuseDetected)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
