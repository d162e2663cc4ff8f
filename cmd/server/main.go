// Package main provides the entry point for the literature search API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/database"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/events"
	"github.com/evidencehq/litsearch/internal/evidence"
	"github.com/evidencehq/litsearch/internal/extract"
	"github.com/evidencehq/litsearch/internal/llm"
	"github.com/evidencehq/litsearch/internal/observability"
	"github.com/evidencehq/litsearch/internal/pdfextract"
	"github.com/evidencehq/litsearch/internal/pipeline"
	"github.com/evidencehq/litsearch/internal/providers"
	"github.com/evidencehq/litsearch/internal/providers/arxiv"
	"github.com/evidencehq/litsearch/internal/providers/europepmc"
	"github.com/evidencehq/litsearch/internal/providers/openalex"
	"github.com/evidencehq/litsearch/internal/providers/pubmed"
	"github.com/evidencehq/litsearch/internal/providers/semanticscholar"
	"github.com/evidencehq/litsearch/internal/quality"
	"github.com/evidencehq/litsearch/internal/rank"
	"github.com/evidencehq/litsearch/internal/repository"
	httpserver "github.com/evidencehq/litsearch/internal/server/http"
	"github.com/evidencehq/litsearch/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("litsearch server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("litsearch")
	}

	searchRepo := repository.NewPgSearchRepository(db)
	runRepo := repository.NewPgRunRepository(db)
	cacheRepo := repository.NewPgCacheRepository(db)
	jobQueue := repository.NewPgJobQueue(db)

	registry := buildRegistry(&cfg.Providers)
	logger.Info().Int("providers", len(registry.Enabled())).Msg("provider registry built")

	publisher := events.NewPublisher(cfg.Events, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close event publisher")
		}
	}()

	runner, err := buildPipeline(cfg, registry, searchRepo, runRepo, cacheRepo, publisher, logger, metrics)
	if err != nil {
		return err
	}

	// The server does not poll the queue; the pool only backs the inline
	// drain endpoint here. cmd/worker runs the standing pool.
	pool := worker.NewPool(cfg.Queue, jobQueue, searchRepo, runner, publisher, logger, metrics)

	httpSrv := httpserver.NewServer(cfg.Server, httpserver.Deps{
		Searches: searchRepo,
		Runs:     runRepo,
		Cache:    cacheRepo,
		Queue:    jobQueue,
		Registry: registry,
		Drainer:  pool,
		DB:       db,
		Queues:   cfg.Queue,
		Caches:   cfg.Cache,
		Logger:   logger,
		Metrics:  metrics,
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", cfg.Server.HTTPAddress())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("litsearch server is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down litsearch server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("litsearch server shutdown complete")
	return nil
}

// buildRegistry registers one adapter per configured bibliographic provider.
func buildRegistry(cfg *config.ProvidersConfig) *providers.Registry {
	registry := providers.NewRegistry()

	registry.Register(openalex.New(openalex.Config{
		BaseURL:    cfg.OpenAlex.BaseURL,
		Timeout:    cfg.OpenAlex.Timeout,
		RateLimit:  cfg.OpenAlex.RateLimit,
		Burst:      cfg.OpenAlex.Burst,
		MaxResults: cfg.OpenAlex.MaxResults,
		Enabled:    cfg.OpenAlex.Enabled,
	}))
	registry.Register(semanticscholar.New(semanticscholar.Config{
		BaseURL:    cfg.SemanticScholar.BaseURL,
		APIKey:     cfg.SemanticScholar.APIKey,
		Timeout:    cfg.SemanticScholar.Timeout,
		RateLimit:  cfg.SemanticScholar.RateLimit,
		Burst:      cfg.SemanticScholar.Burst,
		MaxResults: cfg.SemanticScholar.MaxResults,
		Enabled:    cfg.SemanticScholar.Enabled,
	}))
	registry.Register(arxiv.New(arxiv.Config{
		BaseURL:    cfg.ArXiv.BaseURL,
		Timeout:    cfg.ArXiv.Timeout,
		RateLimit:  cfg.ArXiv.RateLimit,
		Burst:      cfg.ArXiv.Burst,
		MaxResults: cfg.ArXiv.MaxResults,
		Enabled:    cfg.ArXiv.Enabled,
	}))
	registry.Register(pubmed.New(pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		RateLimit:  cfg.PubMed.RateLimit,
		Burst:      cfg.PubMed.Burst,
		MaxResults: cfg.PubMed.MaxResults,
		Enabled:    cfg.PubMed.Enabled,
	}))
	registry.Register(europepmc.New(europepmc.Config{
		BaseURL:    cfg.EuropePMC.BaseURL,
		Timeout:    cfg.EuropePMC.Timeout,
		RateLimit:  cfg.EuropePMC.RateLimit,
		Burst:      cfg.EuropePMC.Burst,
		MaxResults: cfg.EuropePMC.MaxResults,
		Enabled:    cfg.EuropePMC.Enabled,
	}))

	return registry
}

// buildPipeline wires the full retrieval-extraction pipeline.
func buildPipeline(
	cfg *config.Config,
	registry *providers.Registry,
	searchRepo repository.SearchRepository,
	runRepo repository.RunRepository,
	cacheRepo repository.CacheRepository,
	publisher *events.Publisher,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*pipeline.Runner, error) {
	orchestrator := providers.NewOrchestrator(registry, providers.OrchestratorConfig{
		CallTimeout:  cfg.Providers.CallTimeout,
		MaxRetries:   cfg.Providers.MaxRetries,
		RetryBackoff: cfg.Providers.RetryBackoff,
	}, logger, metrics)

	var pdfClient *pdfextract.Client
	if cfg.PDFExtract.Enabled {
		pdfClient = pdfextract.NewClient(pdfextract.Config{
			BaseURL: cfg.PDFExtract.BaseURL,
			Timeout: cfg.PDFExtract.Timeout,
		})
	}
	deterministic := extract.NewDeterministic(pdfClient, logger, metrics)

	var llmExtractor *extract.LLM
	if cfg.Extraction.Mode != string(domain.ExtractionModeDeterministic) {
		generator, err := llm.NewTextGenerator(llm.FactoryConfig{
			Provider:    cfg.LLM.Provider,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			RetryDelay:  cfg.LLM.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("create LLM generator: %w", err)
		}
		llmExtractor = extract.NewLLM(generator, cfg.Extraction.BatchSize, cfg.Extraction.Concurrency, logger, metrics)
	}

	engine, err := extract.NewEngine(cfg.Extraction.Mode, cfg.Extraction.MaxPapers, deterministic, llmExtractor, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create extraction engine: %w", err)
	}

	return pipeline.NewRunner(pipeline.Deps{
		Orchestrator:  orchestrator,
		Canonicalizer: canon.NewCanonicalizer(logger, metrics),
		Filter: quality.NewFilter(quality.Config{
			RequireAbstract:  cfg.Quality.RequireAbstract,
			MinAbstractChars: cfg.Quality.MinAbstractChars,
		}, logger, metrics),
		Ranker:      rank.NewRanker(logger),
		Engine:      engine,
		Builder:     evidence.NewBuilder(logger),
		Searches:    searchRepo,
		Runs:        runRepo,
		Cache:       cacheRepo,
		Events:      publisher,
		CacheConfig: cfg.Cache,
		Logger:      logger,
		Metrics:     metrics,
	}), nil
}
