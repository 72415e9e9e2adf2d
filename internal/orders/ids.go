// Package orders holds the pure transformations of the pipeline: order id resolution,
// product detail parsing and record enrichment. Nothing here does I/O.
package orders

import (
	"github.com/maltedev/order-extractor/internal/models"
)

// idFields are the row keys that may carry the order id, highest priority first.
var idFields = []string{"id", "col_1", "order_id"}

// ResolveID returns the row's order id. The first non-empty candidate field decides: if it is
// not all digits the row has no id, even when a lower-priority field would qualify.
func ResolveID(row models.RawRow) (string, bool) {
	for _, key := range idFields {
		v := row.Get(key)
		if v == "" {
			continue
		}
		if !isDigits(v) {
			return "", false
		}
		return v, true
	}
	return "", false
}

// ExtractIDs collects the distinct order ids of rows in first-seen order.
func ExtractIDs(rows []models.RawRow) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))

	for _, row := range rows {
		id, ok := ResolveID(row)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
