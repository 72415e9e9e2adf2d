package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/order-extractor/internal/enrichment"
	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/orders"
	"github.com/maltedev/order-extractor/internal/scraper"
	"github.com/maltedev/order-extractor/internal/session"
)

// DetailFetcher enriches order ids through a live session.
type DetailFetcher interface {
	Fetch(ctx context.Context, ids []string, s enrichment.Session) (*enrichment.Result, error)
}

type RunnerConfig struct {
	// Label is stamped on every record as session_id.
	Label string
	// Method is stamped on every record as extraction_method.
	Method      string
	PageTimeout time.Duration
}

// PageRunner processes one page in a fresh session: open, navigate, scrape, extract ids, fetch
// details, enrich, persist, close.
type PageRunner struct {
	provider session.Provider
	scraper  scraper.Scraper
	fetcher  DetailFetcher
	sink     Sink
	cfg      RunnerConfig
	logger   *slog.Logger
	now      func() time.Time

	// onState is called on every transition; tests use it to check the cycle.
	onState func(page int, s State)
}

func NewPageRunner(provider session.Provider, sc scraper.Scraper, fetcher DetailFetcher, sink Sink, cfg RunnerConfig, logger *slog.Logger) *PageRunner {
	if cfg.Method == "" {
		cfg.Method = "session_per_page"
	}
	return &PageRunner{
		provider: provider,
		scraper:  sc,
		fetcher:  fetcher,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "page_runner"),
		now:      time.Now,
	}
}

// Run executes one page cycle. It never returns an error: failures are reported on the result.
// The cycle ignores cancellation of ctx and is bounded by the page timeout instead.
func (r *PageRunner) Run(ctx context.Context, page int) (result *models.PageResult) {
	start := r.now()
	result = &models.PageResult{
		PageNumber: page,
		SessionID:  r.cfg.Label,
		Records:    []*models.OutputRecord{},
	}
	log := r.logger.With("page", page)

	ctx = context.WithoutCancel(ctx)
	if r.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PageTimeout)
		defer cancel()
	}

	defer func() {
		result.Duration = r.now().Sub(start)
		if result.Err != nil {
			var pe *PageError
			if errors.As(result.Err, &pe) {
				result.Stage = pe.Stage
			}
			result.Error = result.Err.Error()
			log.Error("page failed", "stage", result.Stage, "error", result.Err, "duration", result.Duration)
			return
		}
		log.Info("page complete",
			"records", len(result.Records),
			"with_products", result.OrdersWithProducts(),
			"rate", result.ExtractionRate(),
			"duration", result.Duration,
		)
	}()

	r.transition(page, StateIdle)

	sess, err := r.provider.Open(ctx)
	if err != nil {
		result.Err = pageError(page, StageSession, ErrSession, err)
		r.transition(page, StateClosed)
		return result
	}
	r.transition(page, StateSessionOpen)
	log = log.With("browser_session", sess.ID)

	defer func() {
		if err := r.provider.Close(sess); err != nil {
			log.Warn("failed to close session", "error", err)
		}
		r.transition(page, StateClosed)
	}()

	if err := r.provider.Navigate(ctx, sess, page); err != nil {
		result.Err = pageError(page, StageNavigate, ErrNavigation, err)
		return result
	}
	r.transition(page, StateNavigated)

	rows, err := r.scraper.Extract(ctx, sess)
	if err == nil && len(rows) == 0 {
		err = scraper.ErrEmptyTable
	}
	if err != nil {
		result.Err = pageError(page, StageScrape, ErrScrape, err)
		return result
	}
	r.transition(page, StateScraped)

	ids := orders.ExtractIDs(rows)
	r.transition(page, StateIDsExtracted)
	log.Info("rows scraped", "rows", len(rows), "ids", len(ids))

	details := map[string]*models.EnrichmentRecord{}
	if len(ids) > 0 {
		res, err := r.fetcher.Fetch(ctx, ids, sess)
		if err != nil {
			result.Err = pageError(page, StageFetch, ErrTimeout, err)
			return result
		}
		details = res.Records
		log.Info("details fetched",
			"outcome", res.Outcome.Status,
			"reason", res.Outcome.Reason,
			"enriched", len(res.Records),
			"batches", res.Batches,
			"failed_batches", res.Failed,
			"cache_hits", res.CacheHits,
		)
	}
	r.transition(page, StateDetailsFetched)

	result.Records = orders.EnrichPage(rows, models.PageMeta{
		SessionID:        r.cfg.Label,
		BrowserSessionID: sess.ID,
		PageNumber:       page,
		ProcessedAt:      r.now(),
		Method:           r.cfg.Method,
	}, details)
	r.transition(page, StateEnriched)

	result.Duration = r.now().Sub(start)
	if err := r.sink.Save(ctx, result); err != nil {
		result.Err = pageError(page, StagePersist, ErrPersist, err)
		return result
	}
	result.Success = true
	r.transition(page, StatePersisted)

	return result
}

func (r *PageRunner) transition(page int, s State) {
	r.logger.Debug("page state", "page", page, "state", s.String())
	if r.onState != nil {
		r.onState(page, s)
	}
}
