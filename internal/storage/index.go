package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/order-extractor/internal/models"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type PageEntry struct {
	Page      int       `json:"page"`
	File      string    `json:"file,omitempty"`
	Status    string    `json:"status"` // completed, failed
	Records   int       `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// PageIndex is the run manifest next to the page files: which page went where, which failed,
// and the final summary.
type PageIndex struct {
	mu       sync.RWMutex
	pages    map[int]*PageEntry
	summary  *models.RunSummary
	filename string
}

type indexFile struct {
	Pages   []*PageEntry       `json:"pages"`
	Summary *models.RunSummary `json:"summary,omitempty"`
}

func NewPageIndex(filename string) (*PageIndex, error) {
	idx := &PageIndex{
		pages:    make(map[int]*PageEntry),
		filename: filename,
	}

	if err := idx.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return idx, nil
}

func (idx *PageIndex) Record(page int, file string, records int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.pages[page] = &PageEntry{
		Page:      page,
		File:      file,
		Status:    StatusCompleted,
		Records:   records,
		UpdatedAt: time.Now(),
	}
	return idx.save()
}

func (idx *PageIndex) MarkFailed(page int, errorMsg string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.pages[page] = &PageEntry{
		Page:      page,
		Status:    StatusFailed,
		UpdatedAt: time.Now(),
		Error:     errorMsg,
	}
	return idx.save()
}

func (idx *PageIndex) Get(page int) (*PageEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, exists := idx.pages[page]
	if !exists {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// Pages returns the page numbers with the given status in ascending order.
func (idx *PageIndex) Pages(status string) []int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []int
	for n, entry := range idx.pages {
		if entry.Status == status {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func (idx *PageIndex) GetStats() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := make(map[string]int)
	for _, entry := range idx.pages {
		stats[entry.Status]++
	}
	stats["total"] = len(idx.pages)
	return stats
}

// PageDone records failed pages. Completed pages are recorded by the file sink itself.
func (idx *PageIndex) PageDone(result *models.PageResult, _ *models.RunSummary) {
	if result.Success {
		return
	}
	// The index is informational; a write failure must not affect the run.
	_ = idx.MarkFailed(result.PageNumber, result.Error)
}

// RunDone stores the final summary.
func (idx *PageIndex) RunDone(summary *models.RunSummary) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := summary.Snapshot()
	idx.summary = &snap
	_ = idx.save()
}

func (idx *PageIndex) save() error {
	file := indexFile{Summary: idx.summary}
	for _, entry := range idx.pages {
		file.Pages = append(file.Pages, entry)
	}
	sort.Slice(file.Pages, func(i, j int) bool { return file.Pages[i].Page < file.Pages[j].Page })

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	if err := writeAtomic(idx.filename, data); err != nil {
		return fmt.Errorf("failed to save page index: %w", err)
	}
	return nil
}

func (idx *PageIndex) Load() error {
	data, err := os.ReadFile(idx.filename)
	if err != nil {
		return err
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}

	for _, entry := range file.Pages {
		idx.pages[entry.Page] = entry
	}
	idx.summary = file.Summary
	return nil
}
