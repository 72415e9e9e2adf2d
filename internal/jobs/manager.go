package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/order-extractor/internal/extraction"
	"github.com/maltedev/order-extractor/internal/models"
)

var (
	ErrRunActive   = errors.New("a run is already in progress")
	ErrRunNotFound = errors.New("run not found")
	ErrNotRunning  = errors.New("run is not running")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Spec describes what a run should extract.
type Spec struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	StartPage     int    `json:"start_page"`
	Pages         int    `json:"pages"`
	TargetRecords int    `json:"target_records"`
}

// Run is the externally visible state of one extraction run.
type Run struct {
	Spec
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	LastPage    int                `json:"last_page"`
	Error       string             `json:"error,omitempty"`
	Summary     *models.RunSummary `json:"summary,omitempty"`
}

// Stats counts runs by status.
type Stats struct {
	TotalRuns     int     `json:"total_runs"`
	RunningRuns   int     `json:"running_runs"`
	CompletedRuns int     `json:"completed_runs"`
	PartialRuns   int     `json:"partial_runs"`
	FailedRuns    int     `json:"failed_runs"`
	StoppedRuns   int     `json:"stopped_runs"`
	SuccessRate   float64 `json:"success_rate"`
}

// RunFunc executes a run and reports progress to obs.
type RunFunc func(ctx context.Context, spec Spec, obs extraction.Observer) (*models.RunSummary, error)

// Manager starts runs in the background, one at a time, and keeps snapshots of their progress.
type Manager struct {
	run    RunFunc
	logger *slog.Logger

	mu      sync.RWMutex
	runs    map[string]*Run
	current string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(run RunFunc, logger *slog.Logger) *Manager {
	return &Manager{
		run:    run,
		logger: logger.With("component", "job_manager"),
		runs:   make(map[string]*Run),
	}
}

// Start launches a run detached from the caller's request. ctx bounds the run's lifetime; it is
// usually the server context.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Run, error) {
	if spec.StartPage < 1 {
		spec.StartPage = 1
	}
	if err := extraction.ValidateRange(spec.StartPage, spec.Pages); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.current != "" {
		m.mu.Unlock()
		return nil, ErrRunActive
	}

	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if spec.Label == "" {
		short := spec.ID
		if len(short) > 8 {
			short = short[:8]
		}
		spec.Label = "run_" + short
	}
	run := &Run{
		Spec:      spec,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runs[spec.ID] = run
	m.current = spec.ID
	m.cancel = cancel
	snapshot := *run
	m.mu.Unlock()

	m.logger.Info("run started", "id", spec.ID, "label", spec.Label, "pages", spec.Pages)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		summary, err := m.run(runCtx, spec, &runObserver{m: m, id: spec.ID})
		m.finish(spec.ID, summary, err)
	}()

	return &snapshot, nil
}

// Stop asks the run to stop after the page in flight.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return ErrRunNotFound
	}
	if m.current != id || m.cancel == nil {
		return ErrNotRunning
	}
	m.cancel()
	m.logger.Info("stop requested", "id", id)
	return nil
}

// Wait blocks until the background run, if any, has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRun(run), nil
}

// Current returns the active run, or ErrNotRunning.
func (m *Manager) Current() (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == "" {
		return nil, ErrNotRunning
	}
	return copyRun(m.runs[m.current]), nil
}

// List returns all runs, newest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, copyRun(r))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalRuns: len(m.runs)}
	for _, r := range m.runs {
		switch r.Status {
		case StatusRunning:
			stats.RunningRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusPartial:
			stats.PartialRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusStopped:
			stats.StoppedRuns++
		}
	}

	finished := stats.TotalRuns - stats.RunningRuns
	if finished > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(finished) * 100
	}
	return stats
}

func (m *Manager) finish(id string, summary *models.RunSummary, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.runs[id]
	now := time.Now()
	run.CompletedAt = &now
	if summary != nil {
		snap := summary.Snapshot()
		run.Summary = &snap
	}

	switch {
	case err != nil:
		run.Status = StatusFailed
		run.Error = err.Error()
	case summary == nil:
		run.Status = StatusFailed
		run.Error = "run returned no summary"
	case summary.Stopped:
		run.Status = StatusStopped
	case summary.Success:
		run.Status = StatusCompleted
	default:
		run.Status = StatusPartial
	}

	m.current = ""
	m.cancel = nil

	m.logger.Info("run finished", "id", id, "status", run.Status, "error", run.Error)
}

func (m *Manager) pageDone(id string, result *models.PageResult, summary *models.RunSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return
	}
	run.LastPage = result.PageNumber
	snap := summary.Snapshot()
	run.Summary = &snap
}

func copyRun(r *Run) *Run {
	c := *r
	if r.Summary != nil {
		snap := r.Summary.Snapshot()
		c.Summary = &snap
	}
	return &c
}

// runObserver feeds controller notifications into the manager's snapshot of one run.
type runObserver struct {
	m  *Manager
	id string
}

func (o *runObserver) PageDone(result *models.PageResult, summary *models.RunSummary) {
	o.m.pageDone(o.id, result, summary)
}

// RunDone is handled by finish once the run function returns.
func (o *runObserver) RunDone(*models.RunSummary) {}
