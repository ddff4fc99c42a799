package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains metrics for the web annotator.
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pendingBatches      prometheus.Gauge
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	m.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchwork_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	m.pendingBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patchwork_http_pending_batches",
		Help: "Batches waiting for labels from the web annotator.",
	})
}

// RecordRequest counts one served request.
func (m *HTTPMetrics) RecordRequest(route, method string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, fmt.Sprint(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(seconds)
}

// SetPendingBatches sets the number of batches awaiting labels.
func (m *HTTPMetrics) SetPendingBatches(n int) {
	if m == nil {
		return
	}
	m.pendingBatches.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	ch <- m.pendingBatches.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	ch <- m.pendingBatches
}
