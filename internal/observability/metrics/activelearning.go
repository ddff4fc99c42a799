package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveLearningMetrics tracks the progress of a labeling session.
type ActiveLearningMetrics struct {
	iterationsTotal  *prometheus.CounterVec
	exploredTotal    prometheus.Counter
	positivesTotal   prometheus.Counter
	labelsGauge      *prometheus.GaugeVec
	testAccuracy     prometheus.Gauge
	fitDuration      prometheus.Histogram
	annotationErrors prometheus.Counter
	registry         *prometheus.Registry
}

// NewActiveLearningMetrics creates the collector and registers it.
func NewActiveLearningMetrics(registry *prometheus.Registry) (*ActiveLearningMetrics, error) {
	m := &ActiveLearningMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register active learning metrics: %w", err)
	}
	return m, nil
}

func (m *ActiveLearningMetrics) initMetrics() {
	m.iterationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_iterations_total",
		Help: "Completed active learning iterations by batch selection mode.",
	}, []string{"mode"})

	m.exploredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_explored_slots_total",
		Help: "Batch slots replaced by random exploration.",
	})

	m.positivesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_annotated_positives_total",
		Help: "Items marked positive by the annotator.",
	})

	m.labelsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "patchwork_labels",
		Help: "Current number of items per label value.",
	}, []string{"label"})

	m.testAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patchwork_test_accuracy",
		Help: "Held-out accuracy after the latest iteration.",
	})

	m.fitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchwork_fit_duration_seconds",
		Help:    "Time spent training the model per iteration.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	m.annotationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_annotation_errors_total",
		Help: "Annotation rounds that ended in an error.",
	})
}

// RecordIteration records one committed iteration. accuracy may be nil.
func (m *ActiveLearningMetrics) RecordIteration(mode string, explored, positives int, fitSeconds float64, accuracy *float64) {
	if m == nil {
		return
	}
	m.iterationsTotal.WithLabelValues(mode).Inc()
	m.exploredTotal.Add(float64(explored))
	m.positivesTotal.Add(float64(positives))
	if fitSeconds > 0 {
		m.fitDuration.Observe(fitSeconds)
	}
	if accuracy != nil {
		m.testAccuracy.Set(*accuracy)
	}
}

// SetLabelCounts updates the label gauges.
func (m *ActiveLearningMetrics) SetLabelCounts(positive, negative, unlabeled int) {
	if m == nil {
		return
	}
	m.labelsGauge.WithLabelValues(strconv.Itoa(1)).Set(float64(positive))
	m.labelsGauge.WithLabelValues(strconv.Itoa(0)).Set(float64(negative))
	m.labelsGauge.WithLabelValues("unlabeled").Set(float64(unlabeled))
}

// IncrementAnnotationErrors counts a failed annotation round.
func (m *ActiveLearningMetrics) IncrementAnnotationErrors() {
	if m == nil {
		return
	}
	m.annotationErrors.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ActiveLearningMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.iterationsTotal.Describe(ch)
	ch <- m.exploredTotal.Desc()
	ch <- m.positivesTotal.Desc()
	m.labelsGauge.Describe(ch)
	ch <- m.testAccuracy.Desc()
	ch <- m.fitDuration.Desc()
	ch <- m.annotationErrors.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ActiveLearningMetrics) Collect(ch chan<- prometheus.Metric) {
	m.iterationsTotal.Collect(ch)
	ch <- m.exploredTotal
	ch <- m.positivesTotal
	m.labelsGauge.Collect(ch)
	ch <- m.testAccuracy
	ch <- m.fitDuration
	ch <- m.annotationErrors
}
