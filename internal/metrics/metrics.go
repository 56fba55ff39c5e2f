// Package metrics exposes Prometheus instrumentation for the analysis pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contractflow"

// Metrics groups the collectors used by the pipeline services.
type Metrics struct {
	pipelineRuns    *prometheus.CounterVec
	schemaRepairs   *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	chatTurns       *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Analysis runs by outcome category.",
		}, []string{"outcome"}),
		schemaRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_repairs_total",
			Help:      "Analysis fields replaced by their default during schema repair.",
		}, []string{"field"}),
		adapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_duration_seconds",
			Help:      "Duration of external adapter calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"adapter", "result"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Persisted chat turns by role.",
		}, []string{"role"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of accepted uploads.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.pipelineRuns, m.schemaRepairs, m.adapterDuration, m.chatTurns, m.uploadBytes,
		m.httpRequests, m.httpDuration)
	return m
}

// AnalysisRun counts a finished analysis run; outcome is "completed" or an error category.
func (m *Metrics) AnalysisRun(outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
}

// SchemaRepair counts a defaulted analysis field.
func (m *Metrics) SchemaRepair(field string) {
	if m == nil {
		return
	}
	m.schemaRepairs.WithLabelValues(field).Inc()
}

// ObserveAdapter records how long an adapter call took.
func (m *Metrics) ObserveAdapter(adapter string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.adapterDuration.WithLabelValues(adapter, result).Observe(time.Since(start).Seconds())
}

// ChatTurn counts a persisted chat turn.
func (m *Metrics) ChatTurn(role string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(role).Inc()
}

// Upload records the size of an accepted upload.
func (m *Metrics) Upload(size int64) {
	if m == nil {
		return
	}
	m.uploadBytes.Observe(float64(size))
}
