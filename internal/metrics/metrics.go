// Package metrics provides Prometheus metrics for the Poesy client and dev server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RefreshesTotal  *prometheus.CounterVec
	StreamChunks    *prometheus.CounterVec
	ServedTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poesy_client_requests_total",
				Help: "API requests issued by the client, by method, endpoint and outcome.",
			},
			[]string{"method", "endpoint", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poesy_client_request_duration_seconds",
				Help:    "API request duration by method and endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poesy_client_token_refreshes_total",
				Help: "Token refresh attempts by result (ok, error, shared).",
			},
			[]string{"result"},
		),
		StreamChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poesy_client_stream_chunks_total",
				Help: "Chat stream lines by status (decoded, skipped).",
			},
			[]string{"status"},
		),
		ServedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poesy_devserver_requests_total",
				Help: "Requests served by the dev server, by route and status code.",
			},
			[]string{"route", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.RefreshesTotal)
	reg.MustRegister(m.StreamChunks)
	reg.MustRegister(m.ServedTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one finished API request. outcome is "ok" or an error kind.
func (m *Metrics) RecordRequest(method, endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, endpoint, outcome).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// RecordRefresh counts one token refresh outcome.
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(result).Inc()
}

// RecordStreamChunk counts one chat stream line.
func (m *Metrics) RecordStreamChunk(status string) {
	if m == nil {
		return
	}
	m.StreamChunks.WithLabelValues(status).Inc()
}

// RecordServed counts one dev server response.
func (m *Metrics) RecordServed(route, status string) {
	if m == nil {
		return
	}
	m.ServedTotal.WithLabelValues(route, status).Inc()
}
