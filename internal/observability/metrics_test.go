package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	acc := 0.5
	m.ActiveLearning.RecordIteration("uncertainty", 1, 2, 0.2, &acc)
	m.ImageLoader.IncrementCacheHits()

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `patchwork_iterations_total{mode="uncertainty"} 1`)
	assert.Contains(t, string(body), "patchwork_image_cache_hits_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewEndpointRequiresAddress(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint("", m)
	assert.Error(t, err)
}
