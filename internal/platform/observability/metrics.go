package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "headstart"

// Metrics owns the Prometheus registry and the collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateQuotes    *prometheus.CounterVec
	quoteDuration prometheus.Histogram
	estimates     prometheus.Histogram
	verifications *prometheus.CounterVec
}

// NewMetrics registers the service collectors plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "shipping",
			Name:      "rate_quotes_total",
			Help:      "Shipping rate quotes by outcome.",
		}, []string{"outcome"}),
		quoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "shipping",
			Name:      "rate_quote_duration_seconds",
			Help:      "Time spent computing shipping rate quotes.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		estimates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "shipping",
			Name:      "ship_estimates_per_quote",
			Help:      "Number of shipments rated per quote.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Request verification outcomes by kind and reason.",
		}, []string{"kind", "success", "reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.rateQuotes,
		m.quoteDuration,
		m.estimates,
		m.verifications,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// RecordRateQuote records the outcome of a shipping rate quote.
func (m *Metrics) RecordRateQuote(outcome string, estimates int, latency time.Duration) {
	if m == nil {
		return
	}
	m.rateQuotes.WithLabelValues(outcome).Inc()
	m.quoteDuration.Observe(latency.Seconds())
	m.estimates.Observe(float64(estimates))
}

// RecordVerification implements auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(kind, strconv.FormatBool(success), reason).Inc()
}
