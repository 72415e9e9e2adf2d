package orders

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/order-extractor/internal/models"
)

var quantitySuffix = regexp.MustCompile(`\((\d+)\)$`)

// ParseDetail splits a comma-separated product detail string into line items.
// A trailing "(n)" with n >= 1 is the quantity; anything else stays part of the name and the
// quantity is 1. Blank segments and segments with no name left are dropped.
func ParseDetail(detail string) []models.ProductLineItem {
	var items []models.ProductLineItem

	for _, segment := range strings.Split(detail, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		name, qty := segment, 1
		if m := quantitySuffix.FindStringSubmatchIndex(segment); m != nil {
			if n, err := strconv.Atoi(segment[m[2]:m[3]]); err == nil && n >= 1 {
				name = strings.TrimSpace(segment[:m[0]])
				qty = n
			}
		}

		if name == "" {
			continue
		}

		items = append(items, models.ProductLineItem{Name: name, Quantity: qty})
	}

	return items
}
