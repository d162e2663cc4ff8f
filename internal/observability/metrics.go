package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the literature search service.
// Metrics are organized by subsystem: searches, providers, pipeline stages,
// extraction, LLM operations, the job queue, caches, and HTTP. All counters and
// histograms are registered via promauto for automatic registration with the
// default Prometheus registry.
type Metrics struct {
	// SearchesStarted counts the total number of searches accepted.
	SearchesStarted prometheus.Counter

	// SearchesCompleted counts the total number of searches that finished successfully.
	SearchesCompleted prometheus.Counter

	// SearchesFailed counts the total number of searches that ended in failure.
	SearchesFailed prometheus.Counter

	// SearchDuration observes the end-to-end pipeline duration of searches in seconds.
	SearchDuration prometheus.Histogram

	// ProviderRequests counts search requests per bibliographic provider.
	ProviderRequests *prometheus.CounterVec

	// ProviderFailures counts provider requests that failed after retries.
	ProviderFailures *prometheus.CounterVec

	// ProviderRateLimited counts provider responses with HTTP status 429.
	ProviderRateLimited *prometheus.CounterVec

	// ProviderDuration observes provider request latency in seconds.
	ProviderDuration *prometheus.HistogramVec

	// ProviderCandidates observes the number of candidates returned per provider call.
	ProviderCandidates *prometheus.HistogramVec

	// CanonicalPapers observes the number of canonical papers produced per search.
	CanonicalPapers prometheus.Histogram

	// MergedDuplicates counts candidates merged into existing canonical papers.
	MergedDuplicates prometheus.Counter

	// FilteredPapers counts papers removed by quality filtering, labeled by reason.
	FilteredPapers *prometheus.CounterVec

	// ExtractionResults counts extraction results by completeness tier.
	ExtractionResults *prometheus.CounterVec

	// ExtractionFailed counts failed extractions by strategy.
	ExtractionFailed *prometheus.CounterVec

	// ExtractionDuration observes per-paper extraction latency by strategy.
	ExtractionDuration *prometheus.HistogramVec

	// LLMRequests counts LLM generation requests.
	LLMRequests prometheus.Counter

	// LLMFailed counts LLM generation requests that failed.
	LLMFailed prometheus.Counter

	// LLMDuration observes LLM request latency in seconds.
	LLMDuration prometheus.Histogram

	// JobsEnqueued counts jobs enqueued, labeled by stage.
	JobsEnqueued *prometheus.CounterVec

	// JobsClaimed counts jobs claimed by workers, labeled by stage.
	JobsClaimed *prometheus.CounterVec

	// JobsCompleted counts jobs completed successfully, labeled by stage.
	JobsCompleted *prometheus.CounterVec

	// JobsRetried counts jobs returned to the queue for retry, labeled by stage.
	JobsRetried *prometheus.CounterVec

	// JobsDead counts jobs moved to the dead state, labeled by stage.
	JobsDead *prometheus.CounterVec

	// JobQueueWait observes time between enqueue and claim in seconds.
	JobQueueWait prometheus.Histogram

	// JobDuration observes job execution duration in seconds by stage.
	JobDuration *prometheus.HistogramVec

	// CacheHits counts cache hits, labeled by cache name.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts cache misses, labeled by cache name.
	CacheMisses *prometheus.CounterVec

	// HTTPRequests counts HTTP requests by method, path, and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes HTTP request latency in seconds by method and path.
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SearchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of searches started",
		}),
		SearchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of searches completed successfully",
		}),
		SearchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of searches that failed",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider search requests",
		}, []string{"provider"}),
		ProviderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Total number of provider requests that failed after retries",
		}, []string{"provider"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of provider responses with status 429",
		}, []string{"provider"}),
		ProviderDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"provider"}),
		ProviderCandidates: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_candidates",
			Help:      "Number of candidates returned per provider request",
			Buckets:   []float64{0, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"provider"}),
		CanonicalPapers: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "canonical_papers",
			Help:      "Number of canonical papers produced per search",
			Buckets:   []float64{0, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		MergedDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_duplicates_total",
			Help:      "Total number of duplicate candidates merged during canonicalization",
		}),
		FilteredPapers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_papers_total",
			Help:      "Total number of papers removed by quality filtering",
		}, []string{"reason"}),
		ExtractionResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_results_total",
			Help:      "Total number of extraction results by completeness tier",
		}, []string{"tier"}),
		ExtractionFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failed_total",
			Help:      "Total number of failed extractions by strategy",
		}, []string{"strategy"}),
		ExtractionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Per-paper extraction duration in seconds by strategy",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"strategy"}),
		LLMRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM generation requests",
		}),
		LLMFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_failed_total",
			Help:      "Total number of LLM generation requests that failed",
		}),
		LLMDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"stage"}),
		JobsClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed by workers",
		}, []string{"stage"}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully",
		}, []string{"stage"}),
		JobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Total number of jobs returned to the queue for retry",
		}, []string{"stage"}),
		JobsDead: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_total",
			Help:      "Total number of jobs moved to the dead state",
		}, []string{"stage"}),
		JobQueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_queue_wait_seconds",
			Help:      "Time between job enqueue and claim in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution duration in seconds by stage",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"cache"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"cache"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
	}
}

// RecordSearchStarted increments the searches started counter.
func (m *Metrics) RecordSearchStarted() {
	m.SearchesStarted.Inc()
}

// RecordSearchCompleted records a completed search and its duration.
func (m *Metrics) RecordSearchCompleted(duration time.Duration) {
	m.SearchesCompleted.Inc()
	m.SearchDuration.Observe(duration.Seconds())
}

// RecordSearchFailed increments the searches failed counter.
func (m *Metrics) RecordSearchFailed() {
	m.SearchesFailed.Inc()
}

// RecordProviderRequest records a provider request outcome. Candidate counts
// are only observed for successful requests.
func (m *Metrics) RecordProviderRequest(provider string, duration time.Duration, candidates int, err error) {
	m.ProviderRequests.WithLabelValues(provider).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		m.ProviderFailures.WithLabelValues(provider).Inc()
		return
	}
	m.ProviderCandidates.WithLabelValues(provider).Observe(float64(candidates))
}

// RecordProviderRateLimited increments the rate limited counter for a provider.
func (m *Metrics) RecordProviderRateLimited(provider string) {
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordCanonicalization records the outcome of a canonicalization pass.
func (m *Metrics) RecordCanonicalization(papers, merged int) {
	m.CanonicalPapers.Observe(float64(papers))
	m.MergedDuplicates.Add(float64(merged))
}

// RecordFiltered increments the filtered papers counter for a reject reason.
func (m *Metrics) RecordFiltered(reason string) {
	m.FilteredPapers.WithLabelValues(reason).Inc()
}

// RecordExtraction records one extraction stage run: result counts by tier
// and the stage duration for the strategy that produced them.
func (m *Metrics) RecordExtraction(strategy string, duration time.Duration, strict, partial int) {
	m.ExtractionResults.WithLabelValues("strict").Add(float64(strict))
	m.ExtractionResults.WithLabelValues("partial").Add(float64(partial))
	m.ExtractionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordExtractionFailed increments the failed extraction counter for a strategy.
func (m *Metrics) RecordExtractionFailed(strategy string) {
	m.ExtractionFailed.WithLabelValues(strategy).Inc()
}

// RecordLLMRequest records an LLM request and its outcome.
func (m *Metrics) RecordLLMRequest(duration time.Duration, err error) {
	m.LLMRequests.Inc()
	m.LLMDuration.Observe(duration.Seconds())
	if err != nil {
		m.LLMFailed.Inc()
	}
}

// RecordJobEnqueued increments the enqueued counter for a stage.
func (m *Metrics) RecordJobEnqueued(stage string) {
	m.JobsEnqueued.WithLabelValues(stage).Inc()
}

// RecordJobClaimed records a claim and the time the job spent queued.
func (m *Metrics) RecordJobClaimed(stage string, queueWait time.Duration) {
	m.JobsClaimed.WithLabelValues(stage).Inc()
	m.JobQueueWait.Observe(queueWait.Seconds())
}

// RecordJobCompleted records a successful job execution.
func (m *Metrics) RecordJobCompleted(stage string, duration time.Duration) {
	m.JobsCompleted.WithLabelValues(stage).Inc()
	m.JobDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordJobRetried increments the retried counter for a stage.
func (m *Metrics) RecordJobRetried(stage string) {
	m.JobsRetried.WithLabelValues(stage).Inc()
}

// RecordJobDead increments the dead counter for a stage.
func (m *Metrics) RecordJobDead(stage string) {
	m.JobsDead.WithLabelValues(stage).Inc()
}

// RecordCacheHit increments the hit counter for a cache.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss increments the miss counter for a cache.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// RecordHTTPRequest records an HTTP request with its status and duration.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
