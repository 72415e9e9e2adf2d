package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maltedev/order-extractor/internal/enrichment"
	"github.com/maltedev/order-extractor/internal/models"
)

// Metrics bundles Prometheus collectors for extraction runs.
type Metrics struct {
	Registry         *prometheus.Registry
	PagesTotal       *prometheus.CounterVec
	PageDuration     prometheus.Histogram
	RecordsTotal     prometheus.Counter
	ProductsTotal    prometheus.Counter
	BatchesTotal     *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	RunsTotal        *prometheus.CounterVec
	CompletionRatio  prometheus.Gauge
	RecordsExtracted prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_pages_total",
			Help: "Pages processed, by result and failing stage.",
		},
		[]string{"result", "stage"},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extractor_page_duration_seconds",
			Help:    "Duration of one full page cycle.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extractor_records_total",
			Help: "Output records persisted.",
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extractor_products_total",
			Help: "Product line items attached to persisted records.",
		},
	)
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_enrichment_batches_total",
			Help: "Enrichment batch attempts by strategy and error type.",
		},
		[]string{"strategy", "error_type"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_enrichment_batch_duration_seconds",
			Help:    "Latency of enrichment batch attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_runs_total",
			Help: "Finished runs by result.",
		},
		[]string{"result"},
	)
	completion := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_completion_ratio",
			Help: "Records extracted over target for the current or last run.",
		},
	)
	extracted := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_run_records",
			Help: "Records extracted so far in the current or last run.",
		},
	)

	registry.MustRegister(pages, pageDuration, records, products, batches, batchDuration, runs, completion, extracted)

	return &Metrics{
		Registry:         registry,
		PagesTotal:       pages,
		PageDuration:     pageDuration,
		RecordsTotal:     records,
		ProductsTotal:    products,
		BatchesTotal:     batches,
		BatchDuration:    batchDuration,
		RunsTotal:        runs,
		CompletionRatio:  completion,
		RecordsExtracted: extracted,
	}
}

// BatchAttempted records one enrichment strategy attempt.
func (m *Metrics) BatchAttempted(strategy string, _, _ int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(strategy, enrichment.ErrorLabel(err)).Inc()
	m.BatchDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// PageDone records a finished page and the run progress after it.
func (m *Metrics) PageDone(result *models.PageResult, summary *models.RunSummary) {
	if m == nil || result == nil {
		return
	}
	outcome := "success"
	if !result.Success {
		outcome = "failed"
	}
	m.PagesTotal.WithLabelValues(outcome, result.Stage).Inc()
	m.PageDuration.Observe(result.Duration.Seconds())
	if result.Success {
		m.RecordsTotal.Add(float64(len(result.Records)))
		m.ProductsTotal.Add(float64(result.TotalProducts()))
	}
	if summary != nil {
		m.RecordsExtracted.Set(float64(summary.TotalRecords))
		m.CompletionRatio.Set(summary.Progress())
	}
}

// RunDone records the final result of a run.
func (m *Metrics) RunDone(summary *models.RunSummary) {
	if m == nil || summary == nil {
		return
	}
	result := "partial"
	if summary.Success {
		result = "pass"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RecordsExtracted.Set(float64(summary.TotalRecords))
	m.CompletionRatio.Set(summary.CompletionRatio)
}
