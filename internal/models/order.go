package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RawRow is one scraped table row keyed by column name (col_N or a semantic alias).
type RawRow map[string]string

// Get returns the trimmed value for key.
func (r RawRow) Get(key string) string {
	return strings.TrimSpace(r[key])
}

// Clone returns a shallow copy of the row.
func (r RawRow) Clone() RawRow {
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type ProductLineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// EnrichmentRecord is the product and customer detail fetched for one order.
type EnrichmentRecord struct {
	OrderID      string            `json:"order_id"`
	Products     []ProductLineItem `json:"products"`
	ProductCount int               `json:"product_count"`
	RawDetail    string            `json:"raw_detail"`
	Customer     string            `json:"customer"`
	AmountTotal  string            `json:"amount_total"`
	Transporter  string            `json:"transporter"`
	Address      string            `json:"address"`
	Phone        string            `json:"phone"`
}

// TotalItems sums the quantities of all line items.
func (e *EnrichmentRecord) TotalItems() int {
	total := 0
	for _, p := range e.Products {
		total += p.Quantity
	}
	return total
}

// PageMeta carries the page/session metadata stamped on every output record.
type PageMeta struct {
	SessionID        string
	BrowserSessionID string
	PageNumber       int
	Position         int
	ProcessedAt      time.Time
	Method           string
}

// OutputRecord is one enriched row. It is built once and never mutated afterwards.
type OutputRecord struct {
	Row RawRow `json:"-"`

	SessionID        string    `json:"session_id"`
	BrowserSessionID string    `json:"browser_session_id,omitempty"`
	PageNumber       int       `json:"page_number"`
	PagePosition     int       `json:"page_position"`
	ProcessedAt      time.Time `json:"processing_timestamp"`
	Method           string    `json:"extraction_method,omitempty"`

	OrderID      string `json:"order_id_clean,omitempty"`
	OrderCode    string `json:"order_code_clean,omitempty"`
	CustomerName string `json:"customer_name_clean,omitempty"`

	Products     []ProductLineItem `json:"products"`
	ProductCount int               `json:"product_count"`
	RawDetail    string            `json:"raw_product_detail,omitempty"`
	Customer     string            `json:"api_customer,omitempty"`
	AmountTotal  string            `json:"api_amount,omitempty"`
	Transporter  string            `json:"api_transporter,omitempty"`
	Address      string            `json:"api_address,omitempty"`
	Phone        string            `json:"api_phone,omitempty"`

	ProductSummary    string `json:"product_summary"`
	TotalItems        int    `json:"total_items"`
	HasProductDetails bool   `json:"has_product_details"`
}

// outputFields avoids MarshalJSON recursion.
type outputFields OutputRecord

// MarshalJSON flattens the raw row and the derived fields into one object.
// Derived keys win over row keys of the same name.
func (r OutputRecord) MarshalJSON() ([]byte, error) {
	derived, err := json.Marshal(outputFields(r))
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(r.Row)+24)
	for k, v := range r.Row {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(derived, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}

	return json.Marshal(merged)
}

// PageResult is what one page cycle produced.
type PageResult struct {
	PageNumber int             `json:"page_number"`
	SessionID  string          `json:"session_id"`
	Records    []*OutputRecord `json:"records"`
	Success    bool            `json:"success"`
	Stage      string          `json:"stage,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Err        error           `json:"-"`
}

// TotalProducts sums product_count over the page records.
func (p *PageResult) TotalProducts() int {
	total := 0
	for _, r := range p.Records {
		total += r.ProductCount
	}
	return total
}

// TotalItems sums total_items over the page records.
func (p *PageResult) TotalItems() int {
	total := 0
	for _, r := range p.Records {
		total += r.TotalItems
	}
	return total
}

// OrdersWithProducts counts records carrying product details.
func (p *PageResult) OrdersWithProducts() int {
	n := 0
	for _, r := range p.Records {
		if r.HasProductDetails {
			n++
		}
	}
	return n
}

// ExtractionRate formats the share of records with product details, e.g. "87.5%".
func (p *PageResult) ExtractionRate() string {
	if len(p.Records) == 0 {
		return "0.0%"
	}
	rate := float64(p.OrdersWithProducts()) / float64(len(p.Records)) * 100
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}
