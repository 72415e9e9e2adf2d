package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/order-extractor/internal/models"
)

// Semantic aliases for the positional columns of the order table.
var columnAliases = map[int]string{
	1: "id",
	2: "order_code",
	4: "customer",
}

type PortalParser struct {
	whitespace     *regexp.Regexp
	payloadPattern *regexp.Regexp
}

func NewPortalParser() *PortalParser {
	return &PortalParser{
		whitespace:     regexp.MustCompile(`\s+`),
		payloadPattern: regexp.MustCompile(`(?s)\{.*"data".*\}`),
	}
}

// ParseOrderTable turns every body row of the table matched by selector into a RawRow keyed
// col_0..col_N, with the id, order_code and customer aliases added when those cells exist.
// Placeholder rows such as "No data available" are skipped.
func (p *PortalParser) ParseOrderTable(html, selector string) ([]models.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, selector)
	}

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		// Tables without an explicit tbody still get one from the HTML parser, but keep
		// a fallback for fragments.
		rows = table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("td").Length() > 0
		})
	}

	var out []models.RawRow
	rows.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 || tr.HasClass("dataTables_empty") || cells.HasClass("dataTables_empty") {
			return
		}
		if cells.Length() == 1 {
			if _, spans := cells.Attr("colspan"); spans {
				return
			}
		}

		row := make(models.RawRow, cells.Length()+len(columnAliases))
		cells.Each(func(i int, td *goquery.Selection) {
			row["col_"+strconv.Itoa(i)] = p.cellText(td)
		})

		for idx, alias := range columnAliases {
			if v, ok := row["col_"+strconv.Itoa(idx)]; ok {
				row[alias] = v
			}
		}

		// The selection checkbox carries the order id even when the id column is rendered
		// as a link or badge.
		if row.Get("id") == "" {
			if v, ok := tr.Find("input[type=checkbox]").First().Attr("value"); ok {
				row["id"] = strings.TrimSpace(v)
			}
		}

		out = append(out, row)
	})

	return out, nil
}

func (p *PortalParser) cellText(s *goquery.Selection) string {
	return strings.TrimSpace(p.whitespace.ReplaceAllString(s.Text(), " "))
}

// ExtractExportPayload finds the JSON produced by the export button. It prefers the <pre> block
// browsers render for JSON responses and falls back to the first {..."data"...} span in the markup.
func (p *PortalParser) ExtractExportPayload(html string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var found []byte
	doc.Find("pre").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if json.Valid([]byte(text)) {
			found = []byte(text)
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}

	if m := p.payloadPattern.FindString(doc.Text()); m != "" && json.Valid([]byte(m)) {
		return []byte(m), nil
	}
	if m := p.payloadPattern.FindString(html); m != "" && json.Valid([]byte(m)) {
		return []byte(m), nil
	}

	return nil, ErrPayloadNotFound
}
