package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSearch(t *testing.T) {
	m := New()
	m.ObserveSearch("hybrid", 20*time.Millisecond, 5, nil)
	m.ObserveSearch("hybrid", 10*time.Millisecond, 0, errors.New("boom"))
	m.ObserveSearch("lexical", time.Millisecond, 2, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("hybrid", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("hybrid", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("lexical", "ok")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveIngest("produkte", "indexed")
	m.ObserveIngest("produkte", "indexed")
	m.ObserveIngest("produkte", "skipped")
	m.AddEmbedded("local", 12)
	m.AddEmbedded("cloud", 0)
	m.EmbeddingFailed("cloud")
	m.JobFinished("reindex", "completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents.WithLabelValues("produkte", "indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("produkte", "skipped")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.chunks.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedFailures.WithLabelValues("cloud")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("reindex", "completed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSearch("vector", time.Second, 1, nil)
		m.ObserveIngest("kb", "failed")
		m.AddEmbedded("local", 3)
		m.EmbeddingFailed("local")
		m.JobFinished("reindex_all", "failed")
		m.ObserveRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("POST", "/api/v1/search", 503, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `hybridkb_http_requests_total{method="POST",route="/api/v1/search",status="5xx"} 1`))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 503: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, statusLabel(code), "code %d", code)
	}
}
