package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/evidencehq/litsearch/internal/domain"
)

// defaultUserAgent identifies this service to provider APIs. Several
// providers (OpenAlex, NCBI) route polite traffic by User-Agent.
const defaultUserAgent = "litsearch/1.0 (+https://github.com/evidencehq/litsearch)"

// HTTPClientConfig configures the shared provider HTTP client.
type HTTPClientConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second.
	RateLimit float64

	// Burst is the token bucket burst size.
	Burst int

	// MaxRetries is how many times a failed request is re-sent. Zero (the
	// default) disables transport-level retries; the orchestrator retries
	// whole provider calls with its own backoff, so layering both would
	// multiply attempts.
	MaxRetries int

	// RetryDelay is the base delay between retries when the provider
	// does not send Retry-After.
	RetryDelay time.Duration

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// APIKey is sent in APIKeyHeader on every request when both are set.
	APIKey string

	// APIKeyHeader is the header name carrying the API key
	// (e.g. "x-api-key" for Semantic Scholar).
	APIKeyHeader string
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// HTTPClient wraps http.Client with token bucket rate limiting and retries
// on 429 and 5xx responses. Safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a rate-limited HTTP client. The limiter gates every
// attempt, including retries, so retry storms still respect provider limits.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()

	return &HTTPClient{
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.Burst),
		config:      cfg,
	}
}

// Do executes the request, waiting on the rate limiter before each attempt
// and retrying on network errors, 429 (honoring Retry-After), and 5xx.
// When retries exhaust on 429 the returned error wraps domain.ErrRateLimited
// so callers can classify it with errors.Is.
//
// Request bodies are only re-sent on retry when GetBody is set; GET requests
// (the normal provider case) always retry cleanly.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			lastStatus = 0
			if attempt == c.config.MaxRetries {
				break
			}
			if err := c.backoff(req, c.config.RetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
		delay := c.retryAfterDelay(resp)
		drainBody(resp)

		if attempt == c.config.MaxRetries {
			break
		}
		if err := c.backoff(req, delay); err != nil {
			return nil, err
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, fmt.Errorf("exhausted %d attempts, provider still throttling: %w",
			c.config.MaxRetries+1, domain.ErrRateLimited)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("exhausted %d attempts: %w", c.config.MaxRetries+1, lastErr)
	}
	return nil, errors.New("no response received")
}

// retryableStatus reports whether the status code warrants another attempt:
// 429 Too Many Requests and all 5xx server errors.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

// retryAfterDelay returns how long to wait before the next attempt,
// preferring the Retry-After header (seconds or HTTP date) when present.
func (c *HTTPClient) retryAfterDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
}

// backoff sleeps for delay respecting context cancellation, then restores
// the request body for the next attempt when the request carries one.
func (c *HTTPClient) backoff(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot rewind request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

// drainBody consumes and closes a response body so the connection can be
// reused for the retry.
func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
