package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AnalysisRun("completed")
	m.AnalysisRun("completed")
	m.AnalysisRun("extraction_error")
	m.SchemaRepair("riskScore")
	m.ChatTurn("user")
	m.ObserveAdapter("extraction", time.Now(), errors.New("boom"))
	m.Upload(1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("extraction_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schemaRepairs.WithLabelValues("riskScore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatTurns.WithLabelValues("user")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AnalysisRun("completed")
		m.SchemaRepair("summary")
		m.ObserveAdapter("analysis", time.Now(), nil)
		m.ChatTurn("assistant")
		m.Upload(1)
	})
}

func TestMiddlewareLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/documents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/documents/{id}", "404")))
}

func TestMiddlewareNilPassesThrough(t *testing.T) {
	var m *Metrics
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	assert.NotNil(t, m.Middleware(h))
}
