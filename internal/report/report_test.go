package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/order-extractor/internal/models"
)

func summary(records int) *models.RunSummary {
	s := models.NewRunSummary("run-1", "june_2025", 3, 100)
	s.AddPage(&models.PageResult{PageNumber: 1, Success: true, Records: make([]*models.OutputRecord, 0)})
	s.AddPage(&models.PageResult{PageNumber: 2})
	s.TotalRecords = records
	s.Finalize(s.StartedAt.Add(90 * time.Second))
	return s
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, "PASS", Verdict(summary(86)))
	assert.Equal(t, "PARTIAL", Verdict(summary(84)))

	failed := summary(0)
	failed.Error = "portal credentials are missing"
	assert.Equal(t, "FAILED", Verdict(failed))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, summary(86))

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "86 / 100")
	assert.Contains(t, out, "86.0%")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "Failed pages")
	assert.Contains(t, out, "1m30s")
}

func TestPageList(t *testing.T) {
	assert.Equal(t, "-", pageList(nil))
	assert.Equal(t, "2, 5, 9", pageList([]int{2, 5, 9}))
}
