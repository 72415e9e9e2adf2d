package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/order-extractor/internal/config"
	"github.com/maltedev/order-extractor/internal/database"
	"github.com/maltedev/order-extractor/internal/enrichment"
	"github.com/maltedev/order-extractor/internal/extraction"
	"github.com/maltedev/order-extractor/internal/jobs"
	"github.com/maltedev/order-extractor/internal/metrics"
	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/parser"
	"github.com/maltedev/order-extractor/internal/scraper"
	"github.com/maltedev/order-extractor/internal/session"
	"github.com/maltedev/order-extractor/internal/storage"
)

// pipeline holds the long-lived collaborators shared by all runs of the process.
type pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	cache   *lru.Cache[string, *models.EnrichmentRecord]

	db    *database.DB
	redis *redis.Client
	relay *database.Relay
}

func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	cache, err := enrichment.NewCache(cfg.Extraction.CacheSize)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		cache:   cache,
	}

	if cfg.Database.Enabled() {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		p.db = db

		if err := db.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}

	if cfg.Redis.Enabled() {
		p.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := p.redis.Ping(ctx).Err(); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		p.relay = database.NewRelay(p.db, p.redis, logger, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
		})
	}

	return p, nil
}

func (p *pipeline) Close() {
	if p.redis != nil {
		p.redis.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
}

// outbox is nil unless the database is configured.
func (p *pipeline) outbox() *database.OutboxRepository {
	if p.db == nil {
		return nil
	}
	return database.NewOutboxRepository(p.db)
}

func (p *pipeline) fetcher() *enrichment.Fetcher {
	ex := p.cfg.Extraction
	strategies := []enrichment.Strategy{
		enrichment.NewAPIStrategy(p.cfg.Portal.BaseURL, p.cfg.Portal.EnrichmentPath, ex.APITimeout, p.logger),
	}
	if !ex.DisableUIPath {
		strategies = append(strategies,
			enrichment.NewUIStrategy(p.cfg.Portal.ExportButtonText, ex.UITimeout, parser.NewPortalParser(), p.logger))
	}

	opts := []enrichment.FetcherOption{enrichment.WithObserver(p.metrics)}
	if p.cache != nil {
		opts = append(opts, enrichment.WithCache(p.cache))
	}
	return enrichment.NewFetcher(ex.BatchSize, ex.BatchDelay, p.logger, strategies, opts...)
}

// Run executes one extraction run end to end. It satisfies jobs.RunFunc.
func (p *pipeline) Run(ctx context.Context, spec jobs.Spec, obs extraction.Observer) (*models.RunSummary, error) {
	ex := p.cfg.Extraction

	index, err := storage.NewPageIndex(filepath.Join(ex.OutputDir, spec.Label+"_index.json"))
	if err != nil {
		return nil, err
	}
	fileSink, err := storage.NewFileSink(storage.FileSinkOptions{
		Dir:              ex.OutputDir,
		Prefix:           ex.FilePrefix,
		DateRange:        ex.DateRange(),
		ProcessingMethod: processingMethod,
		TargetTotal:      spec.TargetRecords,
	}, index)
	if err != nil {
		return nil, err
	}

	sink := extraction.MultiSink{fileSink}
	observers := []extraction.Observer{p.metrics, index}
	if p.db != nil {
		pgSink := database.NewPageSink(p.db, p.cfg.Redis.Stream)
		sink = append(sink, pgSink)
		observers = append(observers, pgSink)
	}
	if obs != nil {
		observers = append(observers, obs)
	}

	runner := extraction.NewPageRunner(
		session.NewPortalProvider(p.cfg, p.logger),
		scraper.NewTableScraper(parser.NewPortalParser(), p.cfg.Portal.TableSelector, p.logger),
		p.fetcher(),
		sink,
		extraction.RunnerConfig{
			Label:       spec.Label,
			Method:      processingMethod,
			PageTimeout: ex.PageTimeout,
		},
		p.logger,
	)

	controller := extraction.NewController(runner, extraction.ControllerConfig{
		RunID:         spec.ID,
		Label:         spec.Label,
		StartPage:     spec.StartPage,
		Pages:         spec.Pages,
		TargetRecords: spec.TargetRecords,
		PageDelay:     ex.PageDelay,
	}, p.logger, observers...)

	return controller.Run(ctx)
}

const processingMethod = "session_per_page"

// defaultSpec is the run described by the configuration alone.
func defaultSpec(cfg *config.Config) jobs.Spec {
	return jobs.Spec{
		Label:         fmt.Sprintf("%s_%s", cfg.Extraction.FilePrefix, time.Now().Format("20060102_150405")),
		StartPage:     1,
		Pages:         cfg.Extraction.Pages,
		TargetRecords: cfg.Extraction.TargetRecords,
	}
}
