package extraction

import (
	"errors"
	"fmt"

	"github.com/maltedev/order-extractor/internal/session"
)

var (
	ErrSession    = errors.New("session setup failed")
	ErrNavigation = errors.New("page navigation failed")
	ErrScrape     = errors.New("table scrape failed")
	ErrPersist    = errors.New("persisting page failed")
	ErrTimeout    = errors.New("page cycle timed out")

	ErrInvalidRange = errors.New("invalid page range")
)

// ValidateRange checks a run over pages start..last, both inclusive and 1-based.
func ValidateRange(start, last int) error {
	if start < 1 {
		return fmt.Errorf("%w: start page must be at least 1, got %d", ErrInvalidRange, start)
	}
	if last < start {
		return fmt.Errorf("%w: last page %d is before start page %d", ErrInvalidRange, last, start)
	}
	return nil
}

// Stage names reported on failed pages.
const (
	StageSession  = "session"
	StageNavigate = "navigate"
	StageScrape   = "scrape"
	StageFetch    = "fetch"
	StagePersist  = "persist"
)

// PageError is a page-level failure. errors.Is matches both the stage sentinel and the cause.
type PageError struct {
	Page  int
	Stage string
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

func pageError(page int, stage string, kind, cause error) *PageError {
	return &PageError{
		Page:  page,
		Stage: stage,
		Err:   fmt.Errorf("%w: %w", kind, cause),
	}
}

// IsFatal reports whether err means no page of the run can succeed.
func IsFatal(err error) bool {
	return errors.Is(err, session.ErrMissingCredentials)
}
