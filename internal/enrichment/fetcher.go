package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/ratelimit"
)

// Session is the part of a portal session the strategies need.
type Session interface {
	Valid() bool
	Cookies() ([]*http.Cookie, error)
	Page() playwright.Page
}

// Strategy fetches enrichment for one batch of order ids.
type Strategy interface {
	Name() string
	FetchBatch(ctx context.Context, ids []string, s Session) (map[string]*models.EnrichmentRecord, error)
}

// BatchObserver is told about every strategy attempt.
type BatchObserver interface {
	BatchAttempted(strategy string, requested, received int, err error, elapsed time.Duration)
}

// Limiter paces batches and learns from their outcome. Mark is called when a batch ends, so the
// pause is measured from the end of one batch to the start of the next.
type Limiter interface {
	Wait(ctx context.Context) error
	Mark()
	RecordSuccess()
	RecordError()
}

// Result is the merged enrichment of one page.
type Result struct {
	Records   map[string]*models.EnrichmentRecord
	Outcome   models.Outcome
	Batches   int
	Failed    int
	CacheHits int
}

// Fetcher partitions ids into batches and runs each batch through an ordered chain of strategies.
// A strategy that errors or returns nothing hands the batch to the next one. A batch that no
// strategy could serve contributes nothing; later batches still run.
type Fetcher struct {
	strategies []Strategy
	batchSize  int
	limiter    Limiter
	cache      *lru.Cache[string, *models.EnrichmentRecord]
	observer   BatchObserver
	logger     *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithCache(cache *lru.Cache[string, *models.EnrichmentRecord]) FetcherOption {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

func WithLimiter(l Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

func WithObserver(o BatchObserver) FetcherOption {
	return func(f *Fetcher) {
		f.observer = o
	}
}

func NewFetcher(batchSize int, baseDelay time.Duration, logger *slog.Logger, strategies []Strategy, opts ...FetcherOption) *Fetcher {
	if batchSize < 1 {
		batchSize = 50
	}

	f := &Fetcher{
		strategies: strategies,
		batchSize:  batchSize,
		limiter:    ratelimit.NewAdaptiveRateLimiter(baseDelay, baseDelay),
		logger:     logger.With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewCache builds the shared record cache. A size of 0 disables caching.
func NewCache(size int) (*lru.Cache[string, *models.EnrichmentRecord], error) {
	if size <= 0 {
		return nil, nil
	}
	cache, err := lru.New[string, *models.EnrichmentRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment cache: %w", err)
	}
	return cache, nil
}

// Batches splits ids into consecutive chunks of at most size ids.
func Batches(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Fetch enriches ids best-effort. It only returns an error when ctx is done; partial coverage is
// reported through the outcome.
func (f *Fetcher) Fetch(ctx context.Context, ids []string, s Session) (*Result, error) {
	res := &Result{
		Records: make(map[string]*models.EnrichmentRecord, len(ids)),
		Outcome: models.Succeeded(),
	}
	if len(ids) == 0 {
		return res, nil
	}

	pending := f.fromCache(ids, res)
	batches := Batches(pending, f.batchSize)
	res.Batches = len(batches)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return res, err
		}

		records, err := f.fetchBatch(ctx, batch, s)
		f.limiter.Mark()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Failed++
			f.limiter.RecordError()
			f.logger.Warn("batch failed",
				"batch", i+1,
				"batches", len(batches),
				"size", len(batch),
				"error_type", ErrorLabel(err),
				"error", err,
			)
			continue
		}

		f.limiter.RecordSuccess()
		for id, rec := range records {
			res.Records[id] = rec
			if f.cache != nil {
				f.cache.Add(id, rec)
			}
		}

		f.logger.Debug("batch done",
			"batch", i+1,
			"batches", len(batches),
			"received", len(records),
			"total", len(res.Records),
		)
	}

	res.Outcome = outcomeFor(len(ids), len(res.Records), res.Failed)
	return res, nil
}

func (f *Fetcher) fromCache(ids []string, res *Result) []string {
	if f.cache == nil {
		return ids
	}
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if rec, ok := f.cache.Get(id); ok {
			res.Records[id] = rec
			res.CacheHits++
			continue
		}
		pending = append(pending, id)
	}
	return pending
}

// fetchBatch walks the strategy chain until one returns data.
func (f *Fetcher) fetchBatch(ctx context.Context, ids []string, s Session) (map[string]*models.EnrichmentRecord, error) {
	var errs []error

	for _, strategy := range f.strategies {
		start := time.Now()
		records, err := strategy.FetchBatch(ctx, ids, s)
		records = onlyRequested(ids, records)
		if f.observer != nil {
			f.observer.BatchAttempted(strategy.Name(), len(ids), len(records), err, time.Since(start))
		}

		if err == nil && len(records) > 0 {
			return records, nil
		}
		if err == nil {
			err = APIError{Reason: "no records returned"}
		}
		errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))

		if ctx.Err() != nil {
			break
		}
		f.logger.Info("strategy came back empty, trying next",
			"strategy", strategy.Name(),
			"size", len(ids),
			"error_type", ErrorLabel(err),
		)
	}

	if len(errs) == 0 {
		return nil, errors.New("no enrichment strategy configured")
	}
	return nil, errors.Join(errs...)
}

// onlyRequested drops records for ids outside the batch.
func onlyRequested(ids []string, records map[string]*models.EnrichmentRecord) map[string]*models.EnrichmentRecord {
	if len(records) == 0 {
		return records
	}
	kept := make(map[string]*models.EnrichmentRecord, len(ids))
	for _, id := range ids {
		if rec, ok := records[id]; ok {
			kept[id] = rec
		}
	}
	return kept
}

func outcomeFor(requested, received, failedBatches int) models.Outcome {
	switch {
	case received >= requested:
		return models.Succeeded()
	case received == 0:
		return models.Failed(fmt.Sprintf("no enrichment for %d orders", requested))
	default:
		return models.Partial(fmt.Sprintf("%d of %d orders enriched, %d batches failed", received, requested, failedBatches))
	}
}
