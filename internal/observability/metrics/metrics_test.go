package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestActiveLearningRecordIteration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewActiveLearningMetrics(reg)
	require.NoError(t, err)

	acc := 0.875
	m.RecordIteration("random", 0, 4, 0, nil)
	m.RecordIteration("uncertainty", 3, 6, 1.5, &acc)
	m.SetLabelCounts(10, 22, 68)

	assert.InDelta(t, 1, testutil.ToFloat64(m.iterationsTotal.WithLabelValues("random")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.iterationsTotal.WithLabelValues("uncertainty")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.exploredTotal), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.positivesTotal), 0)
	assert.InDelta(t, 0.875, testutil.ToFloat64(m.testAccuracy), 0)
	assert.InDelta(t, 68, testutil.ToFloat64(m.labelsGauge.WithLabelValues("unlabeled")), 0)

	fit := gatherFamily(t, reg, "patchwork_fit_duration_seconds")
	require.Len(t, fit.GetMetric(), 1)
	assert.Equal(t, uint64(1), fit.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilCollectorsAreSafe(t *testing.T) {
	t.Parallel()

	var al *ActiveLearningMetrics
	var il *ImageLoaderMetrics
	var h *HTTPMetrics
	assert.NotPanics(t, func() {
		al.RecordIteration("random", 0, 0, 0, nil)
		al.SetLabelCounts(1, 2, 3)
		al.IncrementAnnotationErrors()
		il.ObserveDecode("png", 0.1, nil)
		il.IncrementCacheHits()
		il.IncrementCacheMisses()
		h.RecordRequest("/", "GET", 200, 0.01)
		h.SetPendingBatches(1)
	})
}

func TestImageLoaderMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewImageLoaderMetrics(reg)
	require.NoError(t, err)

	m.ObserveDecode("png", 0.002, nil)
	m.ObserveDecode("png", 0.004, nil)
	m.ObserveDecode("tiff", 0, errors.New("corrupt"))
	m.IncrementCacheHits()
	m.IncrementCacheMisses()
	m.IncrementCacheMisses()

	assert.InDelta(t, 1, testutil.ToFloat64(m.decodeErrors.WithLabelValues("tiff")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheHits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.cacheMisses), 0)

	f := gatherFamily(t, reg, "patchwork_image_decode_duration_seconds")
	require.Len(t, f.GetMetric(), 1)
	assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestDatastoreMetricsImplementsRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewDatastoreMetrics(reg)
	require.NoError(t, err)

	var r Recorder = m
	r.RecordOperation(OpSaveIteration, StatusSuccess)
	r.RecordOperation(OpSaveIteration, StatusError)
	r.RecordError(OpSaveIteration, "database")
	r.RecordDuration(OpSaveIteration, 0.01)

	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpSaveIteration, StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationErrorsTotal.WithLabelValues(OpSaveIteration, "database")), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewHTTPMetrics(reg)
	require.NoError(t, err)
	_, err = NewHTTPMetrics(reg)
	assert.Error(t, err)
}
