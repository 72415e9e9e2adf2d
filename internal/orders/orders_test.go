package orders

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/order-extractor/internal/models"
)

func TestParseDetail(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		expected []models.ProductLineItem
	}{
		{
			name:   "counts and defaults",
			detail: "A (3), B, C (1)",
			expected: []models.ProductLineItem{
				{Name: "A", Quantity: 3},
				{Name: "B", Quantity: 1},
				{Name: "C", Quantity: 1},
			},
		},
		{
			name:     "empty input",
			detail:   "",
			expected: nil,
		},
		{
			name:     "malformed parentheses stay in the name",
			detail:   "B (x)",
			expected: []models.ProductLineItem{{Name: "B (x)", Quantity: 1}},
		},
		{
			name:     "zero count is not a quantity",
			detail:   "Tất (0)",
			expected: []models.ProductLineItem{{Name: "Tất (0)", Quantity: 1}},
		},
		{
			name:     "no space before count",
			detail:   "Áo thun(12)",
			expected: []models.ProductLineItem{{Name: "Áo thun", Quantity: 12}},
		},
		{
			name:     "blank segments and bare counts are dropped",
			detail:   " , (4), Quần jean (2),, ",
			expected: []models.ProductLineItem{{Name: "Quần jean", Quantity: 2}},
		},
		{
			name:     "inner parentheses kept",
			detail:   "Mũ (size L) (2)",
			expected: []models.ProductLineItem{{Name: "Mũ (size L)", Quantity: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDetail(tt.detail))
		})
	}
}

func TestResolveID(t *testing.T) {
	tests := []struct {
		name   string
		row    models.RawRow
		wantID string
		wantOK bool
	}{
		{name: "id field", row: models.RawRow{"id": " 101 "}, wantID: "101", wantOK: true},
		{name: "positional fallback", row: models.RawRow{"col_1": "102"}, wantID: "102", wantOK: true},
		{name: "named fallback", row: models.RawRow{"order_id": "103"}, wantID: "103", wantOK: true},
		{name: "id wins over col_1", row: models.RawRow{"id": "104", "col_1": "999"}, wantID: "104", wantOK: true},
		{name: "non-digit first candidate excludes row", row: models.RawRow{"id": "SO-1", "col_1": "105"}},
		{name: "blank id falls through", row: models.RawRow{"id": "  ", "col_1": "106"}, wantID: "106", wantOK: true},
		{name: "missing", row: models.RawRow{"customer": "Lan"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ResolveID(tt.row)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestExtractIDs(t *testing.T) {
	rows := []models.RawRow{
		{"id": "101"},
		{"id": "102"},
		{"id": "101"},
		{"id": "abc"},
		{},
		{"col_1": "103"},
	}

	ids := ExtractIDs(rows)
	assert.Equal(t, []string{"101", "102", "103"}, ids)
	assert.LessOrEqual(t, len(ids), len(rows))
	assert.Empty(t, ExtractIDs(nil))
}

func TestEnrich_Scenario(t *testing.T) {
	rows := []models.RawRow{
		{"id": "101", "order_code": "SO-101", "customer": "Lan"},
		{"id": "102", "order_code": "SO-102", "customer": "Minh"},
	}
	details := map[string]*models.EnrichmentRecord{
		"101": NewEnrichmentRecord("101", "Widget (2), Gadget"),
	}
	meta := models.PageMeta{
		SessionID:   "june_run",
		PageNumber:  4,
		ProcessedAt: time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC),
		Method:      "session_per_page",
	}

	records := EnrichPage(rows, meta, details)
	require.Len(t, records, 2)

	withDetail := records[0]
	assert.Equal(t, 2, withDetail.ProductCount)
	assert.Equal(t, 3, withDetail.TotalItems)
	assert.True(t, withDetail.HasProductDetails)
	assert.Equal(t, "Widget; Gadget", withDetail.ProductSummary)
	assert.Equal(t, "Widget (2), Gadget", withDetail.RawDetail)
	assert.Equal(t, 1, withDetail.PagePosition)
	assert.Equal(t, "101", withDetail.OrderID)
	assert.Equal(t, "SO-101", withDetail.OrderCode)

	without := records[1]
	assert.False(t, without.HasProductDetails)
	assert.Equal(t, 0, without.TotalItems)
	assert.Equal(t, 0, without.ProductCount)
	assert.Empty(t, without.ProductSummary)
	assert.NotNil(t, without.Products)
	assert.Equal(t, 2, without.PagePosition)
	assert.Equal(t, 4, without.PageNumber)
}

func TestEnrich_Idempotent(t *testing.T) {
	row := models.RawRow{"id": "7"}
	details := map[string]*models.EnrichmentRecord{
		"7": NewEnrichmentRecord("7", "A (1), B (2), C, D (4)"),
	}
	meta := models.PageMeta{SessionID: "s", PageNumber: 1, Position: 1}

	a := Enrich(row, meta, details)
	b := Enrich(row, meta, details)

	assert.Equal(t, a, b)
	assert.Equal(t, "A; B; C", a.ProductSummary)
	assert.Equal(t, 8, a.TotalItems)
}

func TestEnrich_DoesNotAliasInputs(t *testing.T) {
	row := models.RawRow{"id": "7"}
	detail := NewEnrichmentRecord("7", "A (1)")
	rec := Enrich(row, models.PageMeta{}, map[string]*models.EnrichmentRecord{"7": detail})

	row["id"] = "8"
	detail.Products[0].Name = "changed"

	assert.Equal(t, "7", rec.Row["id"])
	assert.Equal(t, "A", rec.Products[0].Name)
}

func TestOutputRecord_FlatJSON(t *testing.T) {
	rec := Enrich(
		models.RawRow{"id": "101", "col_3": "2025-06-02", "page_number": "stale"},
		models.PageMeta{SessionID: "s1", PageNumber: 2, Position: 5},
		map[string]*models.EnrichmentRecord{"101": NewEnrichmentRecord("101", "Widget (2)")},
	)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "2025-06-02", out["col_3"])
	assert.Equal(t, float64(2), out["page_number"], "metadata overrides row keys")
	assert.Equal(t, "Widget", out["product_summary"])
	assert.Equal(t, true, out["has_product_details"])
	assert.Equal(t, "101", out["order_id_clean"])
}
