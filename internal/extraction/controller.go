package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/ratelimit"
)

// PageProcessor runs one page cycle.
type PageProcessor interface {
	Run(ctx context.Context, page int) *models.PageResult
}

// Observer is notified after every page and once at the end of the run.
// Notifications come from the controller goroutine; observers must not block.
type Observer interface {
	PageDone(result *models.PageResult, summary *models.RunSummary)
	RunDone(summary *models.RunSummary)
}

type ControllerConfig struct {
	RunID     string
	Label     string
	StartPage int
	// Pages is the last page of the range, so a run resumed at StartPage k covers k..Pages.
	Pages         int
	TargetRecords int
	PageDelay     time.Duration
}

// Controller drives the page runner over the page range, one page at a time.
type Controller struct {
	runner    PageProcessor
	limiter   *ratelimit.SimpleRateLimiter
	observers []Observer
	cfg       ControllerConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(runner PageProcessor, cfg ControllerConfig, logger *slog.Logger, observers ...Observer) *Controller {
	if cfg.StartPage < 1 {
		cfg.StartPage = 1
	}
	return &Controller{
		runner:    runner,
		limiter:   ratelimit.NewFixedRateLimiter(cfg.PageDelay),
		observers: observers,
		cfg:       cfg,
		logger:    logger.With("component", "run_controller", "run_id", cfg.RunID),
		now:       time.Now,
	}
}

// Run processes pages StartPage..Pages. Cancelling ctx stops the run between pages; the page in
// flight always finishes. A failed page never stops the run. The only errors returned are a fatal
// one, together with the summary accumulated so far, and an invalid page range.
func (c *Controller) Run(ctx context.Context) (*models.RunSummary, error) {
	last := c.cfg.Pages
	if err := ValidateRange(c.cfg.StartPage, last); err != nil {
		summary := models.NewRunSummary(c.cfg.RunID, c.cfg.Label, 0, c.cfg.TargetRecords)
		summary.Error = err.Error()
		summary.Finalize(c.now())
		return summary, err
	}
	summary := models.NewRunSummary(c.cfg.RunID, c.cfg.Label, last-c.cfg.StartPage+1, c.cfg.TargetRecords)
	summary.StartedAt = c.now()

	c.logger.Info("starting run",
		"label", c.cfg.Label,
		"first_page", c.cfg.StartPage,
		"last_page", last,
		"target", c.cfg.TargetRecords,
	)

	var fatal error
	for page := c.cfg.StartPage; page <= last; page++ {
		if err := c.pause(ctx); err != nil {
			c.logger.Warn("run stopped", "next_page", page, "reason", err)
			summary.Stopped = true
			break
		}

		result := c.runner.Run(ctx, page)
		c.limiter.Mark()
		summary.AddPage(result)

		c.logger.Info("progress",
			"page", page,
			"success", result.Success,
			"records", summary.TotalRecords,
			"target", summary.TargetRecords,
			"progress", summary.Progress(),
		)
		for _, o := range c.observers {
			o.PageDone(result, summary)
		}

		if result.Err != nil && IsFatal(result.Err) {
			fatal = result.Err
			summary.Error = result.Err.Error()
			c.logger.Error("aborting run", "page", page, "error", result.Err)
			break
		}
	}

	summary.Finalize(c.now())
	for _, o := range c.observers {
		o.RunDone(summary)
	}

	c.logger.Info("run finished",
		"success", summary.Success,
		"completion", summary.CompletionRatio,
		"records", summary.TotalRecords,
		"failed_pages", summary.FailedPages,
		"elapsed", summary.Elapsed,
	)

	return summary, fatal
}

// pause waits out the inter-page delay, counted from the end of the previous page.
func (c *Controller) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.limiter.Wait(ctx)
}
