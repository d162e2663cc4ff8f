// Package main provides the entry point for the litsearch pipeline worker.
// Any number of worker processes can point at the same database; the
// lease-based job queue keeps them from executing the same job twice.
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
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("litsearch worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("litsearch_worker")
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

	pool := worker.NewPool(cfg.Queue, jobQueue, searchRepo, runner, publisher, logger, metrics)

	var metricsServer *http.Server
	errCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("worker error")
		stop()
		<-done
		return err
	}

	// The pool drains in-flight jobs to a per-attempt outcome before exiting.
	<-done

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("litsearch worker shutdown complete")
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
