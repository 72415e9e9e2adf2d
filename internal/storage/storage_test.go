package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/order-extractor/internal/models"
)

func samplePage() *models.PageResult {
	return &models.PageResult{
		PageNumber: 3,
		SessionID:  "june_20250701",
		Success:    true,
		Records: []*models.OutputRecord{
			{
				Row:               models.RawRow{"id": "101", "col_2": "SO-101"},
				SessionID:         "june_20250701",
				PageNumber:        3,
				PagePosition:      1,
				OrderID:           "101",
				Products:          []models.ProductLineItem{{Name: "Widget", Quantity: 2}, {Name: "Gadget", Quantity: 1}},
				ProductCount:      2,
				ProductSummary:    "Widget; Gadget",
				TotalItems:        3,
				HasProductDetails: true,
			},
			{
				Row:          models.RawRow{"id": "102"},
				SessionID:    "june_20250701",
				PageNumber:   3,
				PagePosition: 2,
				OrderID:      "102",
				Products:     []models.ProductLineItem{},
			},
		},
	}
}

func newSink(t *testing.T, index *PageIndex) (*FileSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkOptions{
		Dir:              dir,
		Prefix:           "june_2025",
		DateRange:        "2025-06-01 - 2025-06-30",
		ProcessingMethod: "session_per_page",
		TargetTotal:      23452,
	}, index)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC) }
	return sink, dir
}

func TestFileSink_Save(t *testing.T) {
	sink, dir := newSink(t, nil)

	require.NoError(t, sink.Save(context.Background(), samplePage()))

	path := filepath.Join(dir, "june_2025_page_03_june_20250701.json")
	assert.Equal(t, path, sink.PagePath("june_20250701", 3))

	stored, err := LoadPageFile(path)
	require.NoError(t, err)

	meta := stored.Metadata
	assert.Equal(t, "june_20250701", meta.SessionID)
	assert.Equal(t, 3, meta.PageNumber)
	assert.Equal(t, 2, meta.TotalRecords)
	assert.Equal(t, 2, meta.TotalProducts)
	assert.Equal(t, 1, meta.OrdersWithProducts)
	assert.Equal(t, "50.0%", meta.ProductExtractionRate)
	assert.Equal(t, "2025-06-01 - 2025-06-30", meta.DateRange)
	assert.Equal(t, 23452, meta.TargetTotal)

	require.Len(t, stored.Orders, 2)
	assert.Equal(t, "SO-101", stored.Orders[0]["col_2"])
	assert.Equal(t, "Widget; Gadget", stored.Orders[0]["product_summary"])
	assert.Equal(t, false, stored.Orders[1]["has_product_details"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestFileSink_SaveCancelled(t *testing.T) {
	sink, dir := newSink(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, sink.Save(ctx, samplePage()), context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileSink_RequiresDir(t *testing.T) {
	_, err := NewFileSink(FileSinkOptions{}, nil)
	assert.Error(t, err)
}

func TestPageIndex(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "index.json")
	index, err := NewPageIndex(filename)
	require.NoError(t, err)

	sink, _ := newSink(t, index)
	require.NoError(t, sink.Save(context.Background(), samplePage()))

	index.PageDone(&models.PageResult{PageNumber: 4, Error: "scrape: order table has no rows"}, nil)
	index.PageDone(&models.PageResult{PageNumber: 3, Success: true}, nil)

	summary := models.NewRunSummary("run-1", "june", 4, 100)
	index.RunDone(summary)

	assert.Equal(t, []int{3}, index.Pages(StatusCompleted))
	assert.Equal(t, []int{4}, index.Pages(StatusFailed))
	assert.Equal(t, map[string]int{"completed": 1, "failed": 1, "total": 2}, index.GetStats())

	entry, ok := index.Get(3)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Records)

	reloaded, err := NewPageIndex(filename)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, reloaded.Pages(StatusFailed))
	require.NotNil(t, reloaded.summary)
	assert.Equal(t, "run-1", reloaded.summary.RunID)
}
