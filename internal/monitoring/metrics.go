// Package monitoring - gateway counters and the local telemetry log.
//
// DESIGN: Prometheus counters cover the hot-path aggregates (requests,
// tokens, policy actions); the JSONL tracker in tracker.go keeps a local
// per-event record for debugging without the ingestion backend.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
	BlockedTotal     *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	UpstreamErrors   *prometheus.CounterVec
	LatencySeconds   *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Proxied requests by provider and status class.",
	}, []string{"provider", "status"})

	m.TokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tokens_total",
		Help: "Tokens reported by upstream responses.",
	}, []string{"provider", "direction"})

	m.BlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_blocked_total",
		Help: "Requests or responses blocked by the security filter.",
	}, []string{"direction"})

	m.RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Requests rejected by the per-provider rate limiter.",
	}, []string{"provider"})

	m.UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Transport-level upstream failures.",
	}, []string{"provider"})

	m.LatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Total request latency including upstream time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	m.registry.MustRegister(
		m.RequestsTotal,
		m.TokensTotal,
		m.BlockedTotal,
		m.RateLimitedTotal,
		m.UpstreamErrors,
		m.LatencySeconds,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
