package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maltedev/order-extractor/internal/models"
)

// Sink persists the records of one page.
type Sink interface {
	Name() string
	Save(ctx context.Context, page *models.PageResult) error
}

// MultiSink writes a page to every sink in order. All sinks are tried; any failure fails the page.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m MultiSink) Save(ctx context.Context, page *models.PageResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, page); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
