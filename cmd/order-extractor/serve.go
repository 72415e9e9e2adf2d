package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/order-extractor/internal/api"
	"github.com/maltedev/order-extractor/internal/jobs"
)

var serveStartRun bool

func init() {
	serveCmd.Flags().BoolVar(&serveStartRun, "start", false, "start a run with the configured defaults right away")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the status API and runs extractions on request.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		manager := jobs.NewManager(p.Run, logger)

		var outbox api.OutboxStats
		if repo := p.outbox(); repo != nil {
			outbox = repo
		}

		// Runs started over HTTP get a label per run unless the request names one.
		defaults := defaultSpec(cfg)
		defaults.Label = ""
		handlers := api.NewHandlers(ctx, manager, outbox, defaults, logger)

		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      api.NewRouter(handlers, p.metrics.Registry, cfg.Server.AllowedOrigins),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
			// The run in flight finishes its page before it notices the stop.
			manager.Wait()
			return nil
		})

		if p.relay != nil {
			g.Go(func() error {
				if err := p.relay.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		if serveStartRun {
			run, err := manager.Start(gctx, defaultSpec(cfg))
			if err != nil {
				return err
			}
			logger.Info("initial run started", "id", run.ID)
		}

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}
