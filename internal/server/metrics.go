package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metric names.
const (
	metricConversionsTotal    = "markup2pdf_conversions_total"
	metricConversionSeconds   = "markup2pdf_conversion_duration_seconds"
	metricFallbacksTotal      = "markup2pdf_fallbacks_total"
	metricArtifactBytes       = "markup2pdf_artifact_bytes"
	metricRendersInFlight     = "markup2pdf_renders_in_flight"
	metricRenderCapacity      = "markup2pdf_render_capacity"
	metricHTTPRequestsTotal   = "markup2pdf_http_requests_total"
	metricHTTPRequestDuration = "markup2pdf_http_request_duration_seconds"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// metrics holds the server collectors on a private registry.
type metrics struct {
	registry     *prometheus.Registry
	conversions  *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
	artifactSize *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func newMetrics(conv Converter) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricConversionsTotal,
			Help: "Conversions by content type, output format, engine and outcome.",
		}, []string{"type", "format", "engine", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricConversionSeconds,
			Help:    "Wall time of conversions, fallback included.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"format", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricFallbacksTotal,
			Help: "Conversions completed by the legacy renderer after a browser failure.",
		}, []string{"format"}),
		artifactSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricArtifactBytes,
			Help:    "Size of produced artifacts.",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
		}, []string{"format"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricHTTPRequestsTotal,
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricHTTPRequestDuration,
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.conversions,
		m.durations,
		m.fallbacks,
		m.artifactSize,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricRendersInFlight,
			Help: "Renders currently holding a concurrency slot.",
		}, func() float64 { return float64(conv.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricRenderCapacity,
			Help: "Maximum number of simultaneous renders.",
		}, func() float64 { return float64(conv.MaxConcurrency()) }),
	)
	return m
}

// conversion records one finished conversion. engine is empty on failure.
func (m *metrics) conversion(contentType, format, engine string, fellBack bool, size int, elapsed time.Duration, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		engine = "none"
	}
	m.conversions.WithLabelValues(contentType, format, engine, outcome).Inc()
	m.durations.WithLabelValues(format, outcome).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	m.artifactSize.WithLabelValues(format).Observe(float64(size))
	if fellBack {
		m.fallbacks.WithLabelValues(format).Inc()
	}
}

func (m *metrics) observeRequest(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
