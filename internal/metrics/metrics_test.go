package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/order-extractor/internal/enrichment"
	"github.com/maltedev/order-extractor/internal/models"
)

func TestMetrics_BatchAttempted(t *testing.T) {
	m := New()

	m.BatchAttempted("api", 50, 0, enrichment.TimeoutError{Err: context.DeadlineExceeded}, time.Second)
	m.BatchAttempted("ui", 50, 48, nil, 2*time.Second)
	m.BatchAttempted("api", 50, 50, nil, 300*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("api", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("api", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("ui", "none")))
}

func TestMetrics_PageAndRun(t *testing.T) {
	m := New()
	summary := models.NewRunSummary("run-1", "june", 2, 4)

	ok := &models.PageResult{
		PageNumber: 1,
		Success:    true,
		Duration:   30 * time.Second,
		Records: []*models.OutputRecord{
			{ProductCount: 2, HasProductDetails: true},
			{ProductCount: 1, HasProductDetails: true},
		},
	}
	summary.AddPage(ok)
	m.PageDone(ok, summary)

	failed := &models.PageResult{PageNumber: 2, Stage: "scrape", Duration: time.Second}
	summary.AddPage(failed)
	m.PageDone(failed, summary)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("failed", "scrape")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ProductsTotal))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.CompletionRatio))

	summary.Finalize(time.Now())
	m.RunDone(summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("partial")))

	count, err := testutil.GatherAndCount(m.Registry, "extractor_pages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchAttempted("api", 1, 1, nil, 0)
		m.PageDone(&models.PageResult{}, nil)
		m.RunDone(&models.RunSummary{})
	})
}
