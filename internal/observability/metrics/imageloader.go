package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageLoaderMetrics contains metrics for image decoding and the decoded-image cache.
type ImageLoaderMetrics struct {
	decodeDuration *prometheus.HistogramVec
	decodeErrors   *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	registry       *prometheus.Registry
}

// NewImageLoaderMetrics creates the collector and registers it.
func NewImageLoaderMetrics(registry *prometheus.Registry) (*ImageLoaderMetrics, error) {
	m := &ImageLoaderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register image loader metrics: %w", err)
	}
	return m, nil
}

func (m *ImageLoaderMetrics) initMetrics() {
	m.decodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchwork_image_decode_duration_seconds",
		Help:    "Time to read, decode and resize one image.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"format"})

	m.decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_image_decode_errors_total",
		Help: "Images that failed to load.",
	}, []string{"format"})

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_image_cache_hits_total",
		Help: "Decoded-image cache hits.",
	})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_image_cache_misses_total",
		Help: "Decoded-image cache misses.",
	})
}

// ObserveDecode records a decode attempt of the given format.
func (m *ImageLoaderMetrics) ObserveDecode(format string, seconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.decodeErrors.WithLabelValues(format).Inc()
		return
	}
	m.decodeDuration.WithLabelValues(format).Observe(seconds)
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *ImageLoaderMetrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *ImageLoaderMetrics) IncrementCacheMisses() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ImageLoaderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.decodeDuration.Describe(ch)
	m.decodeErrors.Describe(ch)
	ch <- m.cacheHits.Desc()
	ch <- m.cacheMisses.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ImageLoaderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.decodeDuration.Collect(ch)
	m.decodeErrors.Collect(ch)
	ch <- m.cacheHits
	ch <- m.cacheMisses
}
