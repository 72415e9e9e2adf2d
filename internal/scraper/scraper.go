package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/parser"
	"github.com/maltedev/order-extractor/internal/session"
)

var (
	ErrEmptyTable = errors.New("order table has no rows")
	ErrNoPage     = errors.New("session has no page")
)

// Scraper reads the currently displayed page of the filtered order table.
type Scraper interface {
	Extract(ctx context.Context, s *session.Session) ([]models.RawRow, error)
}

// TableScraper snapshots the page markup and hands it to the portal parser.
type TableScraper struct {
	parser   parser.Parser
	selector string
	content  func(s *session.Session) (string, error)
	logger   *slog.Logger
}

func NewTableScraper(p parser.Parser, selector string, logger *slog.Logger) *TableScraper {
	return &TableScraper{
		parser:   p,
		selector: selector,
		content:  pageContent,
		logger:   logger.With("component", "table_scraper"),
	}
}

func pageContent(s *session.Session) (string, error) {
	page := s.Page()
	if page == nil {
		return "", ErrNoPage
	}
	return page.Content()
}

func (t *TableScraper) Extract(ctx context.Context, s *session.Session) ([]models.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Valid() {
		return nil, session.ErrClosed
	}

	html, err := t.content(s)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	rows, err := t.parser.ParseOrderTable(html, t.selector)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	t.logger.Debug("scraped table", "browser_session_id", s.ID, "rows", len(rows))
	return rows, nil
}
