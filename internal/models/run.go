package models

import (
	"time"
)

// CompletionThreshold is the share of the target record count a run must reach to succeed.
const CompletionThreshold = 0.85

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome tags a component result with success, partial or failed plus a reason.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

func Succeeded() Outcome {
	return Outcome{Status: OutcomeSuccess}
}

func Partial(reason string) Outcome {
	return Outcome{Status: OutcomePartial, Reason: reason}
}

func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// RunSummary aggregates a whole run. Only the run controller mutates it.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	SessionLabel    string        `json:"session_label"`
	PagesPlanned    int           `json:"pages_planned"`
	PagesAttempted  int           `json:"pages_attempted"`
	PagesSucceeded  int           `json:"pages_succeeded"`
	SuccessfulPages []int         `json:"successful_pages"`
	FailedPages     []int         `json:"failed_pages"`
	TotalRecords    int           `json:"total_records"`
	TotalProducts   int           `json:"total_products"`
	TotalItems      int           `json:"total_items"`
	OrdersWithInfo  int           `json:"orders_with_products"`
	TargetRecords   int           `json:"target_records"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
	CompletionRatio float64       `json:"completion_ratio"`
	Success         bool          `json:"success"`
	Stopped         bool          `json:"stopped"`
	Error           string        `json:"error,omitempty"`
}

// NewRunSummary starts an empty summary for a run.
func NewRunSummary(runID, label string, pages, target int) *RunSummary {
	return &RunSummary{
		RunID:           runID,
		SessionLabel:    label,
		PagesPlanned:    pages,
		TargetRecords:   target,
		SuccessfulPages: make([]int, 0),
		FailedPages:     make([]int, 0),
		StartedAt:       time.Now(),
	}
}

// AddPage folds a finished page into the totals.
func (s *RunSummary) AddPage(p *PageResult) {
	s.PagesAttempted++
	if !p.Success {
		s.FailedPages = append(s.FailedPages, p.PageNumber)
		return
	}

	s.PagesSucceeded++
	s.SuccessfulPages = append(s.SuccessfulPages, p.PageNumber)
	s.TotalRecords += len(p.Records)
	s.TotalProducts += p.TotalProducts()
	s.TotalItems += p.TotalItems()
	s.OrdersWithInfo += p.OrdersWithProducts()
}

// Progress returns records extracted so far over the target.
func (s *RunSummary) Progress() float64 {
	return CompletionRatio(s.TotalRecords, s.TargetRecords)
}

// Finalize stamps the end time and decides overall success.
func (s *RunSummary) Finalize(now time.Time) {
	s.FinishedAt = now
	s.Elapsed = now.Sub(s.StartedAt)
	s.CompletionRatio = CompletionRatio(s.TotalRecords, s.TargetRecords)
	s.Success = s.CompletionRatio >= CompletionThreshold
}

// RecordsPerSecond is the extraction throughput over the elapsed time.
func (s *RunSummary) RecordsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalRecords) / s.Elapsed.Seconds()
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *RunSummary) Snapshot() RunSummary {
	c := *s
	c.SuccessfulPages = append([]int(nil), s.SuccessfulPages...)
	c.FailedPages = append([]int(nil), s.FailedPages...)
	return c
}

// CompletionRatio is extracted/target, 0 when there is no target.
func CompletionRatio(extracted, target int) float64 {
	if target <= 0 {
		return 0
	}
	return float64(extracted) / float64(target)
}
