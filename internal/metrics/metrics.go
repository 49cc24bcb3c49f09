// Package metrics Prometheus 指标
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamtrack_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamtrack_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	// 上游 TMDB
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamtrack_upstream_requests_total",
			Help: "Total number of upstream catalog requests by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamtrack_catalog_cache_lookups_total",
			Help: "Catalog cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamtrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Keycloak 管理 API
	IdentityAdminCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamtrack_identity_admin_calls_total",
			Help: "Identity provider admin API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	AvatarsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamtrack_avatars_cleaned_total",
			Help: "Orphaned avatar files removed by the cleanup job",
		},
	)
)

// ObserveHTTP 记录一次 HTTP 请求
func ObserveHTTP(service, method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(service, method, route).Observe(elapsed.Seconds())
}

// Outcome 将错误转换为标签值
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
