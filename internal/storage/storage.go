package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/order-extractor/internal/models"
)

// PageMetadata heads every page file.
type PageMetadata struct {
	SessionID             string    `json:"session_id"`
	PageNumber            int       `json:"page_number"`
	Timestamp             time.Time `json:"timestamp"`
	TotalRecords          int       `json:"total_records"`
	TotalProducts         int       `json:"total_products"`
	OrdersWithProducts    int       `json:"orders_with_products"`
	ProductExtractionRate string    `json:"product_extraction_rate"`
	DateRange             string    `json:"date_range"`
	ProcessingMethod      string    `json:"processing_method"`
	TargetTotal           int       `json:"target_total"`
}

type PageFile struct {
	Metadata PageMetadata           `json:"metadata"`
	Orders   []*models.OutputRecord `json:"orders"`
}

type FileSinkOptions struct {
	Dir              string
	Prefix           string
	DateRange        string
	ProcessingMethod string
	TargetTotal      int
}

// FileSink writes one JSON file per page and keeps an index of what it wrote.
type FileSink struct {
	opts  FileSinkOptions
	index *PageIndex
	now   func() time.Time
}

func NewFileSink(opts FileSinkOptions, index *PageIndex) (*FileSink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "orders"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FileSink{
		opts:  opts,
		index: index,
		now:   time.Now,
	}, nil
}

func (s *FileSink) Name() string {
	return "file"
}

// PagePath is where the page of the given run lands.
func (s *FileSink) PagePath(sessionID string, page int) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("%s_page_%02d_%s.json", s.opts.Prefix, page, sessionID))
}

func (s *FileSink) Save(ctx context.Context, page *models.PageResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := PageFile{
		Metadata: PageMetadata{
			SessionID:             page.SessionID,
			PageNumber:            page.PageNumber,
			Timestamp:             s.now(),
			TotalRecords:          len(page.Records),
			TotalProducts:         page.TotalProducts(),
			OrdersWithProducts:    page.OrdersWithProducts(),
			ProductExtractionRate: page.ExtractionRate(),
			DateRange:             s.opts.DateRange,
			ProcessingMethod:      s.opts.ProcessingMethod,
			TargetTotal:           s.opts.TargetTotal,
		},
		Orders: page.Records,
	}
	if file.Orders == nil {
		file.Orders = []*models.OutputRecord{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode page %d: %w", page.PageNumber, err)
	}

	path := s.PagePath(page.SessionID, page.PageNumber)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page.PageNumber, err)
	}

	if s.index != nil {
		if err := s.index.Record(page.PageNumber, path, len(page.Records)); err != nil {
			return fmt.Errorf("failed to update page index: %w", err)
		}
	}

	return nil
}

// StoredPage is a page file as read back from disk. Orders stay flat objects.
type StoredPage struct {
	Metadata PageMetadata             `json:"metadata"`
	Orders   []map[string]interface{} `json:"orders"`
}

// LoadPageFile reads back a page file.
func LoadPageFile(path string) (*StoredPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var page StoredPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse page file: %w", err)
	}
	return &page, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
