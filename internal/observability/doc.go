// Package observability provides logging, metrics, and correlation support
// for the literature search service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for searches, providers, extraction, and the job queue
//   - Context helpers for propagating correlation data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("search_id", searchID).Msg("search started")
//
// Add search context to a logger:
//
//	logger = observability.WithSearchContext(logger, searchID, runVersion)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("litsearch")
//
// Record metrics:
//
//	metrics.RecordSearchStarted()
//	metrics.RecordProviderRequest("openalex", elapsed, len(candidates), err)
//	metrics.RecordJobCompleted("pipeline", elapsed)
//
// # Context Helpers
//
// Store and retrieve correlation data:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithSearch(ctx, searchID, runVersion)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	searchID, runVersion := observability.SearchFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - search_id: Search identifier
//   - run_version: Pipeline run version for a search
//   - job_id: Queue job identifier
//   - worker_id: Worker instance identifier
//   - provider: Bibliographic provider (openalex, pubmed, etc.)
//   - paper_id: Canonical paper identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
