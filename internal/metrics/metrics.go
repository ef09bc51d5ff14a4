// Package metrics defines the prometheus collectors exported at
// /metrics. A private registry keeps the default Go collectors out of
// tests that register twice.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequests    *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	BackendRetries *prometheus.CounterVec
	RateLimitWait  prometheus.Histogram
	ActiveSessions prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_chatter_rpc_requests_total",
			Help: "JSON-RPC requests by method and result code (0 = success).",
		}, []string{"method", "code"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_chatter_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		BackendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_chatter_backend_retries_total",
			Help: "Backend call retries by endpoint and failure class.",
		}, []string{"endpoint", "class"}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slack_chatter_ratelimit_wait_seconds",
			Help:    "Time spent waiting on the sliding-window rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slack_chatter_active_sessions",
			Help: "Sessions currently held by the session manager.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.RPCRequests,
		m.ToolCalls,
		m.BackendRetries,
		m.RateLimitWait,
		m.ActiveSessions,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
