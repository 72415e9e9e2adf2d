package orders

import (
	"strings"

	"github.com/maltedev/order-extractor/internal/models"
)

// summaryLimit is how many product names go into product_summary.
const summaryLimit = 3

// Enrich merges one scraped row, its page metadata and the enrichment map into an output record.
// It never fails: an order without enrichment gets empty product fields.
func Enrich(row models.RawRow, meta models.PageMeta, details map[string]*models.EnrichmentRecord) *models.OutputRecord {
	rec := &models.OutputRecord{
		Row:              row.Clone(),
		SessionID:        meta.SessionID,
		BrowserSessionID: meta.BrowserSessionID,
		PageNumber:       meta.PageNumber,
		PagePosition:     meta.Position,
		ProcessedAt:      meta.ProcessedAt,
		Method:           meta.Method,
		OrderID:          firstNonEmpty(row, "id", "col_1"),
		OrderCode:        firstNonEmpty(row, "order_code", "col_2"),
		CustomerName:     firstNonEmpty(row, "customer", "col_4"),
		Products:         []models.ProductLineItem{},
	}

	id, ok := ResolveID(row)
	if !ok {
		return rec
	}

	detail, ok := details[id]
	if !ok || detail == nil {
		return rec
	}

	if len(detail.Products) > 0 {
		rec.Products = append(rec.Products, detail.Products...)
	}
	rec.ProductCount = detail.ProductCount
	rec.RawDetail = detail.RawDetail
	rec.Customer = detail.Customer
	rec.AmountTotal = detail.AmountTotal
	rec.Transporter = detail.Transporter
	rec.Address = detail.Address
	rec.Phone = detail.Phone
	rec.ProductSummary = Summary(rec.Products)
	rec.TotalItems = detail.TotalItems()
	rec.HasProductDetails = true

	return rec
}

// EnrichPage enriches all rows of a page, numbering positions from 1.
func EnrichPage(rows []models.RawRow, meta models.PageMeta, details map[string]*models.EnrichmentRecord) []*models.OutputRecord {
	out := make([]*models.OutputRecord, 0, len(rows))
	for i, row := range rows {
		m := meta
		m.Position = i + 1
		out = append(out, Enrich(row, m, details))
	}
	return out
}

// Summary joins the first three product names with "; ".
func Summary(items []models.ProductLineItem) string {
	n := len(items)
	if n > summaryLimit {
		n = summaryLimit
	}
	names := make([]string, 0, n)
	for _, p := range items[:n] {
		names = append(names, p.Name)
	}
	return strings.Join(names, "; ")
}

// NewEnrichmentRecord builds the record for one order from its raw detail string.
func NewEnrichmentRecord(orderID, detail string) *models.EnrichmentRecord {
	products := ParseDetail(detail)
	return &models.EnrichmentRecord{
		OrderID:      orderID,
		Products:     products,
		ProductCount: len(products),
		RawDetail:    detail,
	}
}

func firstNonEmpty(row models.RawRow, keys ...string) string {
	for _, k := range keys {
		if v := row.Get(k); v != "" {
			return v
		}
	}
	return ""
}
