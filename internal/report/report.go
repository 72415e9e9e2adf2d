package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maltedev/order-extractor/internal/models"
)

// Verdict is PASS when the run met the completion threshold.
func Verdict(s *models.RunSummary) string {
	switch {
	case s.Success:
		return "PASS"
	case s.Error != "":
		return "FAILED"
	default:
		return "PARTIAL"
	}
}

// Render writes the final run summary as a table.
func Render(w io.Writer, s *models.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Extraction run %s", s.SessionLabel)

	t.AppendRow(table.Row{"Run ID", s.RunID})
	t.AppendRow(table.Row{"Pages", fmt.Sprintf("%d/%d succeeded (%d planned)", s.PagesSucceeded, s.PagesAttempted, s.PagesPlanned)})
	t.AppendRow(table.Row{"Successful pages", pageList(s.SuccessfulPages)})
	t.AppendRow(table.Row{"Failed pages", pageList(s.FailedPages)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Records", fmt.Sprintf("%d / %d", s.TotalRecords, s.TargetRecords)})
	t.AppendRow(table.Row{"Orders with products", s.OrdersWithInfo})
	t.AppendRow(table.Row{"Products", s.TotalProducts})
	t.AppendRow(table.Row{"Items", s.TotalItems})
	t.AppendRow(table.Row{"Elapsed", s.Elapsed.Round(time.Second).String()})
	t.AppendRow(table.Row{"Throughput", fmt.Sprintf("%.2f records/s", s.RecordsPerSecond())})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Completion", fmt.Sprintf("%.1f%% (threshold %.0f%%)", s.CompletionRatio*100, models.CompletionThreshold*100)})
	if s.Stopped {
		t.AppendRow(table.Row{"Stopped", "yes, before the last page"})
	}
	if s.Error != "" {
		t.AppendRow(table.Row{"Error", s.Error})
	}
	t.AppendFooter(table.Row{"Result", Verdict(s)})

	t.Render()
}

func pageList(pages []int) string {
	if len(pages) == 0 {
		return "-"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}
