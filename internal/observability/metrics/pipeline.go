package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

// PipelineMetrics records ingestion, stage and reprocess outcomes, plus the
// outcome of every guarded external call.
type PipelineMetrics struct {
	service string

	ingestTotal        *prometheus.CounterVec
	ingestDuration     *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	reprocessRuns      *prometheus.CounterVec
	reprocessDocuments *prometheus.CounterVec
	reprocessDuration  *prometheus.HistogramVec
	externalCalls      *prometheus.CounterVec
	externalDuration   *prometheus.HistogramVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "ingest_total",
			Help:      "Total ingested files by status.",
		},
		[]string{"service", "status"},
	)
	ingestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "ingest_duration_seconds",
			Help:      "Per-file ingestion duration in seconds by status.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	reprocessRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "reprocess_runs_total",
			Help:      "Total bulk reprocess runs.",
		},
		[]string{"service"},
	)
	reprocessDocuments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "reprocess_documents_total",
			Help:      "Documents visited by bulk reprocess runs by result.",
		},
		[]string{"service", "result"},
	)
	reprocessDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "pipeline",
			Name:      "reprocess_duration_seconds",
			Help:      "Bulk reprocess run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service"},
	)
	externalCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "external",
			Name:      "calls_total",
			Help:      "Outbound calls by operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	externalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Outbound call duration including retries and rate-limit waits.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		ingestTotal,
		ingestDuration,
		stageDuration,
		reprocessRuns,
		reprocessDocuments,
		reprocessDuration,
		externalCalls,
		externalDuration,
	)

	return &PipelineMetrics{
		service:            service,
		ingestTotal:        ingestTotal,
		ingestDuration:     ingestDuration,
		stageDuration:      stageDuration,
		reprocessRuns:      reprocessRuns,
		reprocessDocuments: reprocessDocuments,
		reprocessDuration:  reprocessDuration,
		externalCalls:      externalCalls,
		externalDuration:   externalDuration,
	}
}

func (m *PipelineMetrics) ObserveIngest(status domain.IngestStatus, duration time.Duration) {
	label := string(status)
	if label == "" {
		label = "unknown"
	}
	m.ingestTotal.WithLabelValues(m.service, label).Inc()
	m.ingestDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveReprocess(summary domain.ReprocessSummary, duration time.Duration) {
	m.reprocessRuns.WithLabelValues(m.service).Inc()
	m.reprocessDuration.WithLabelValues(m.service).Observe(duration.Seconds())

	failed := len(summary.Errors)
	unchanged := summary.Total - summary.Updated - failed
	if summary.Updated > 0 {
		m.reprocessDocuments.WithLabelValues(m.service, "updated").Add(float64(summary.Updated))
	}
	if failed > 0 {
		m.reprocessDocuments.WithLabelValues(m.service, "error").Add(float64(failed))
	}
	if unchanged > 0 {
		m.reprocessDocuments.WithLabelValues(m.service, "unchanged").Add(float64(unchanged))
	}
}

// ObserveExternalCall matches resilience.OutcomeObserver.
func (m *PipelineMetrics) ObserveExternalCall(operation, outcome string, elapsed time.Duration) {
	m.externalCalls.WithLabelValues(m.service, operation, outcome).Inc()
	m.externalDuration.WithLabelValues(m.service, operation).Observe(elapsed.Seconds())
}
