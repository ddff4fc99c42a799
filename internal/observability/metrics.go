// Package observability provides Prometheus metrics for patchwork sessions.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/patchwork-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry       *prometheus.Registry
	ActiveLearning *metrics.ActiveLearningMetrics
	ImageLoader    *metrics.ImageLoaderMetrics
	Datastore      *metrics.DatastoreMetrics
	HTTP           *metrics.HTTPMetrics
}

// NewMetrics creates a registry and initializes every collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	al, err := metrics.NewActiveLearningMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create active learning metrics: %w", err)
	}

	il, err := metrics.NewImageLoaderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create image loader metrics: %w", err)
	}

	ds, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	h, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:       registry,
		ActiveLearning: al,
		ImageLoader:    il,
		Datastore:      ds,
		HTTP:           h,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
