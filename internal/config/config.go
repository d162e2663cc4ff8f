// Package config provides configuration management for the literature search service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the literature search service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Providers contains bibliographic provider API configurations.
	Providers ProvidersConfig `mapstructure:"providers"`
	// LLM contains LLM client settings for evidence extraction.
	LLM LLMConfig `mapstructure:"llm"`
	// PDFExtract contains PDF extraction collaborator settings.
	PDFExtract PDFExtractConfig `mapstructure:"pdf_extract"`
	// Extraction contains evidence extraction settings.
	Extraction ExtractionConfig `mapstructure:"extraction"`
	// Quality contains quality filter settings.
	Quality QualityConfig `mapstructure:"quality"`
	// Queue contains job queue and worker pool settings.
	Queue QueueConfig `mapstructure:"queue"`
	// Cache contains search and paper cache TTL settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Events contains Kafka lifecycle event publisher settings.
	Events EventsConfig `mapstructure:"events"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port" validate:"gt=0,lte=65535"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port" validate:"gt=0,lte=65535"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// WorkerToken authorizes the drain endpoint (loaded from LITSEARCH_SERVER_WORKER_TOKEN).
	WorkerToken string `mapstructure:"-"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// ProvidersConfig holds configuration for all bibliographic provider APIs.
type ProvidersConfig struct {
	// OpenAlex contains OpenAlex API settings.
	OpenAlex ProviderConfig `mapstructure:"openalex"`
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar ProviderConfig `mapstructure:"semantic_scholar"`
	// ArXiv contains arXiv API settings.
	ArXiv ProviderConfig `mapstructure:"arxiv"`
	// PubMed contains PubMed API settings.
	PubMed ProviderConfig `mapstructure:"pubmed"`
	// EuropePMC contains Europe PMC API settings (covers bioRxiv and medRxiv preprints).
	EuropePMC ProviderConfig `mapstructure:"europe_pmc"`
	// CallTimeout is the per-provider call timeout applied by the orchestrator.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxRetries is the number of retries for transient provider failures.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
	// RetryBackoff is the linear backoff step between provider retries.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// ProviderConfig holds configuration for a single bibliographic provider API.
type ProviderConfig struct {
	// Enabled controls whether this provider is queried.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. LITSEARCH_PROVIDERS_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the HTTP client timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// MaxResults is the maximum results per page request.
	MaxResults int `mapstructure:"max_results"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (anthropic, openai).
	Provider string `mapstructure:"provider"`
	// Model is the model identifier to use.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the provider API key (loaded from LITSEARCH_LLM_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens is the maximum tokens per completion.
	MaxTokens int `mapstructure:"max_tokens"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// PDFExtractConfig holds PDF extraction collaborator settings.
type PDFExtractConfig struct {
	// Enabled controls whether full-text PDF extraction is attempted.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the HTTP address of the PDF extraction service.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for extraction calls, clamped to [1s, 60s].
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig holds evidence extraction settings.
type ExtractionConfig struct {
	// Mode selects the extraction strategy (deterministic, llm, hybrid).
	Mode string `mapstructure:"mode" validate:"oneof=deterministic llm hybrid"`
	// MaxPapers caps how many ranked papers enter the extraction stage.
	MaxPapers int `mapstructure:"max_papers" validate:"gt=0"`
	// BatchSize is the number of papers per LLM extraction batch.
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
	// Concurrency is the number of extraction batches processed in parallel.
	Concurrency int `mapstructure:"concurrency" validate:"gt=0"`
}

// QualityConfig holds quality filter settings.
type QualityConfig struct {
	// RequireAbstract hard-rejects papers without an abstract.
	RequireAbstract bool `mapstructure:"require_abstract"`
	// MinAbstractChars is the minimum abstract length for a paper to pass.
	MinAbstractChars int `mapstructure:"min_abstract_chars" validate:"gte=0"`
}

// QueueConfig holds job queue and worker pool settings.
type QueueConfig struct {
	// Workers is the number of concurrent workers in the pool.
	Workers int `mapstructure:"workers" validate:"gt=0"`
	// PollInterval is how long a worker sleeps when the queue is empty.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of jobs claimed per poll.
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
	// LeaseDuration is how long a claim holds a job before it is reclaimable.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// MaxAttempts is the number of attempts before a job is moved to dead.
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1"`
}

// CacheConfig holds cache TTL settings.
type CacheConfig struct {
	// SearchTTL is the search result cache lifetime.
	SearchTTL time.Duration `mapstructure:"search_ttl"`
	// PaperTTL is the canonical paper cache lifetime.
	PaperTTL time.Duration `mapstructure:"paper_ttl"`
}

// EventsConfig holds Kafka lifecycle event publisher settings.
type EventsConfig struct {
	// Enabled controls whether lifecycle events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic for search lifecycle events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("LITSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/litsearch")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Server.WorkerToken = os.Getenv("LITSEARCH_SERVER_WORKER_TOKEN")
	cfg.LLM.APIKey = os.Getenv("LITSEARCH_LLM_API_KEY")

	// Provider API keys.
	cfg.Providers.OpenAlex.APIKey = os.Getenv("LITSEARCH_PROVIDERS_OPENALEX_API_KEY")
	cfg.Providers.SemanticScholar.APIKey = os.Getenv("LITSEARCH_PROVIDERS_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Providers.ArXiv.APIKey = os.Getenv("LITSEARCH_PROVIDERS_ARXIV_API_KEY")
	cfg.Providers.PubMed.APIKey = os.Getenv("LITSEARCH_PROVIDERS_PUBMED_API_KEY")
	cfg.Providers.EuropePMC.APIKey = os.Getenv("LITSEARCH_PROVIDERS_EUROPE_PMC_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "litsearch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "litsearch")
	// Default to "require" for production security. Use LITSEARCH_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Provider defaults - OpenAlex
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("providers.openalex.enabled", true)
	v.SetDefault("providers.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("providers.openalex.timeout", "30s")
	v.SetDefault("providers.openalex.rate_limit", 10.0)
	v.SetDefault("providers.openalex.burst", 10)
	v.SetDefault("providers.openalex.max_results", 200)

	// Provider defaults - Semantic Scholar
	v.SetDefault("providers.semantic_scholar.enabled", true)
	v.SetDefault("providers.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("providers.semantic_scholar.timeout", "30s")
	v.SetDefault("providers.semantic_scholar.rate_limit", 10.0)
	v.SetDefault("providers.semantic_scholar.burst", 10)
	v.SetDefault("providers.semantic_scholar.max_results", 100)

	// Provider defaults - arXiv
	v.SetDefault("providers.arxiv.enabled", true)
	v.SetDefault("providers.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("providers.arxiv.timeout", "30s")
	v.SetDefault("providers.arxiv.rate_limit", 3.0) // arXiv recommends max 3 req/sec
	v.SetDefault("providers.arxiv.burst", 3)
	v.SetDefault("providers.arxiv.max_results", 100)

	// Provider defaults - PubMed
	v.SetDefault("providers.pubmed.enabled", true)
	v.SetDefault("providers.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("providers.pubmed.timeout", "30s")
	v.SetDefault("providers.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("providers.pubmed.burst", 3)
	v.SetDefault("providers.pubmed.max_results", 100)

	// Provider defaults - Europe PMC
	v.SetDefault("providers.europe_pmc.enabled", true)
	v.SetDefault("providers.europe_pmc.base_url", "https://www.ebi.ac.uk/europepmc/webservices/rest")
	v.SetDefault("providers.europe_pmc.timeout", "30s")
	v.SetDefault("providers.europe_pmc.rate_limit", 5.0)
	v.SetDefault("providers.europe_pmc.burst", 5)
	v.SetDefault("providers.europe_pmc.max_results", 100)

	// Orchestrator defaults
	v.SetDefault("providers.call_timeout", "8s")
	v.SetDefault("providers.max_retries", 2)
	v.SetDefault("providers.retry_backoff", "250ms")

	// LLM defaults
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")

	// PDF extraction defaults
	v.SetDefault("pdf_extract.enabled", false)
	v.SetDefault("pdf_extract.base_url", "http://localhost:8091")
	v.SetDefault("pdf_extract.timeout", "30s")

	// Extraction defaults
	v.SetDefault("extraction.mode", "hybrid")
	v.SetDefault("extraction.max_papers", 45)
	v.SetDefault("extraction.batch_size", 8)
	v.SetDefault("extraction.concurrency", 3)

	// Quality defaults
	v.SetDefault("quality.require_abstract", true)
	v.SetDefault("quality.min_abstract_chars", 0)

	// Queue defaults
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.batch_size", 1)
	v.SetDefault("queue.lease_duration", "60s")
	v.SetDefault("queue.max_attempts", 3)

	// Cache defaults
	v.SetDefault("cache.search_ttl", "6h")
	v.SetDefault("cache.paper_ttl", "720h") // 30 days

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "events.litsearch.search")
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate orchestrator settings
	if c.Providers.CallTimeout <= 0 {
		return fmt.Errorf("providers call_timeout must be positive")
	}
	if c.Providers.RetryBackoff < 0 {
		return fmt.Errorf("providers retry_backoff must not be negative")
	}

	// Validate queue settings
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be positive")
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue lease_duration must be positive")
	}

	// Validate cache TTLs
	if c.Cache.SearchTTL <= 0 || c.Cache.PaperTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	// Validate that the configured LLM provider has its required API key set
	// when a strategy that calls the LLM is selected.
	if c.Extraction.Mode != "deterministic" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai", "anthropic":
			if c.LLM.APIKey == "" {
				return fmt.Errorf("extraction mode %q requires LITSEARCH_LLM_API_KEY to be set for provider %q", c.Extraction.Mode, c.LLM.Provider)
			}
		default:
			return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
		}
	}

	// Validate events settings
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events brokers are required when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events topic is required when events are enabled")
		}
	}

	return nil
}
