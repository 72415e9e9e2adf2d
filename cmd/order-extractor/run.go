package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/order-extractor/internal/extraction"
	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/report"
)

var runFlags struct {
	label      string
	startPage  int
	pages      int
	target     int
	dateFrom   string
	dateTo     string
	noFallback bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.label, "label", "", "run label stamped on every record (default <prefix>_<timestamp>)")
	f.IntVar(&runFlags.startPage, "start-page", 1, "first page to process")
	f.IntVar(&runFlags.pages, "pages", 0, "last page to process (default from config)")
	f.IntVar(&runFlags.target, "target", 0, "expected number of records (default from config)")
	f.StringVar(&runFlags.dateFrom, "from", "", "first order date, YYYY-MM-DD")
	f.StringVar(&runFlags.dateTo, "to", "", "last order date, YYYY-MM-DD")
	f.BoolVar(&runFlags.noFallback, "no-ui-fallback", false, "only use the JSON endpoint for product details")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extracts all configured pages once and prints a summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if runFlags.dateFrom != "" {
			cfg.Extraction.DateFrom = runFlags.dateFrom
		}
		if runFlags.dateTo != "" {
			cfg.Extraction.DateTo = runFlags.dateTo
		}
		if runFlags.noFallback {
			cfg.Extraction.DisableUIPath = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		spec := defaultSpec(cfg)
		spec.ID = uuid.New().String()
		if runFlags.label != "" {
			spec.Label = runFlags.label
		}
		if runFlags.startPage > 0 {
			spec.StartPage = runFlags.startPage
		}
		if runFlags.pages > 0 {
			spec.Pages = runFlags.pages
		}
		if runFlags.target > 0 {
			spec.TargetRecords = runFlags.target
		}
		if err := extraction.ValidateRange(spec.StartPage, spec.Pages); err != nil {
			return err
		}

		p, err := newPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		// The relay only runs alongside the extraction; it is stopped once the run is over.
		relayCtx, stopRelay := context.WithCancel(context.WithoutCancel(ctx))
		g, gctx := errgroup.WithContext(relayCtx)
		if p.relay != nil {
			g.Go(func() error {
				if err := p.relay.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		summary, runErr := p.Run(ctx, spec, nil)

		stopRelay()
		if err := g.Wait(); err != nil {
			logger.Error("relay stopped with error", "error", err)
		}
		if p.relay != nil {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			if err := p.relay.Flush(flushCtx); err != nil {
				logger.Error("failed to flush outbox", "error", err)
			}
			cancel()
		}

		if summary != nil {
			report.Render(cmd.OutOrStdout(), summary)
		}
		if runErr != nil {
			return runErr
		}
		if !summary.Success {
			return fmt.Errorf("run %s reached %.1f%% of %d records, below the %.0f%% threshold",
				summary.RunID, summary.CompletionRatio*100, summary.TargetRecords, models.CompletionThreshold*100)
		}
		return nil
	},
}
