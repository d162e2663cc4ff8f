// Package pdfextract calls the PDF full-text extraction collaborator.
//
// The collaborator is a black box that downloads a PDF, segments its text,
// and returns structured outcomes plus opaque diagnostics. This client
// validates PDF URLs before dispatch so the collaborator is never asked to
// fetch a private network address.
package pdfextract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Sentinel errors for extraction calls.
var (
	// ErrInvalidURL is returned when the PDF URL is not an https URL.
	ErrInvalidURL = errors.New("pdfextract: invalid pdf url")
	// ErrSSRF is returned when the URL resolves to a private/internal network address.
	ErrSSRF = errors.New("pdfextract: request to private network denied")
	// ErrExtractFailed is returned when the collaborator call fails.
	ErrExtractFailed = errors.New("pdfextract: extraction failed")
)

// Timeout clamp bounds for the collaborator call.
const (
	minTimeout = time.Second
	maxTimeout = 60 * time.Second
)

// Result holds the collaborator's response for one PDF.
type Result struct {
	// Outcomes are the structured outcomes found in the full text.
	Outcomes []domain.Outcome `json:"outcomes"`
	// Diagnostics is the collaborator's opaque processing report.
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
}

// extractRequest is the request body sent to the collaborator.
type extractRequest struct {
	PDFURL    string `json:"pdf_url"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// Config holds extraction client configuration.
type Config struct {
	// BaseURL is the HTTP address of the extraction collaborator.
	BaseURL string
	// Timeout is the extraction time budget, clamped to [1s, 60s].
	Timeout time.Duration
	// UserAgent is the User-Agent header.
	UserAgent string
	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only be
	// set to true in test environments. Production code must never set this.
	AllowPrivateNetworks bool
}

// Client dispatches PDF extraction requests to the collaborator service.
type Client struct {
	httpClient           *http.Client
	baseURL              string
	timeout              time.Duration
	userAgent            string
	allowPrivateNetworks bool // For testing only; never enable in production.
}

// NewClient creates a new extraction client with the given configuration.
func NewClient(cfg Config) *Client {
	timeout := clampTimeout(cfg.Timeout)
	if cfg.UserAgent == "" {
		cfg.UserAgent = "litsearch/1.0"
	}

	return &Client{
		httpClient: &http.Client{
			// The collaborator enforces the clamped budget itself; the
			// transport allows a little extra for the response to travel.
			Timeout: timeout + 5*time.Second,
		},
		baseURL:              strings.TrimRight(cfg.BaseURL, "/"),
		timeout:              timeout,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}
}

// clampTimeout bounds the collaborator time budget to [1s, 60s].
func clampTimeout(timeout time.Duration) time.Duration {
	if timeout < minTimeout {
		return minTimeout
	}
	if timeout > maxTimeout {
		return maxTimeout
	}
	return timeout
}

// Extract asks the collaborator to process the PDF at pdfURL.
// Returns ErrInvalidURL for non-https URLs, ErrSSRF if the host resolves to
// a private network address, and ErrExtractFailed wrapped with the HTTP
// status for collaborator errors.
func (c *Client) Extract(ctx context.Context, pdfURL string) (*Result, error) {
	if err := c.validatePDFURL(pdfURL); err != nil {
		return nil, err
	}

	body, err := json.Marshal(extractRequest{
		PDFURL:    pdfURL,
		TimeoutMS: c.timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrExtractFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrExtractFailed, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrExtractFailed, err)
	}

	for _, outcome := range result.Outcomes {
		if outcome.OutcomeMeasured == "" {
			return nil, fmt.Errorf("%w: response outcome missing outcome_measured", ErrExtractFailed)
		}
	}

	return &result, nil
}

// Timeout returns the clamped collaborator time budget.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// validatePDFURL enforces https and public-host rules on the PDF URL.
func (c *Client) validatePDFURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	// Only https is forwarded; plain http and file-like schemes are refused.
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidURL, parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if c.allowPrivateNetworks {
		return nil
	}
	return validateHostNotPrivate(parsed.Hostname())
}

// validateHostNotPrivate resolves the hostname and rejects private IPs.
func validateHostNotPrivate(host string) error {
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrExtractFailed, host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrSSRF, host, ipStr)
		}
	}
	return nil
}

// isPrivateIP returns true if the IP address is in a private, loopback, or
// otherwise non-routable range. Covers both IPv4 and IPv6 private ranges.
func isPrivateIP(ip net.IP) bool {
	// IPv4 private ranges.
	privateRanges := []struct{ start, end net.IP }{
		{net.ParseIP("10.0.0.0"), net.ParseIP("10.255.255.255")},
		{net.ParseIP("172.16.0.0"), net.ParseIP("172.31.255.255")},
		{net.ParseIP("192.168.0.0"), net.ParseIP("192.168.255.255")},
		{net.ParseIP("169.254.0.0"), net.ParseIP("169.254.255.255")},
		// IPv6 Unique Local Addresses (fc00::/7).
		{net.ParseIP("fc00::"), net.ParseIP("fdff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
		// IPv6 link-local (fe80::/10).
		{net.ParseIP("fe80::"), net.ParseIP("febf:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, r := range privateRanges {
		if bytesInRange(ip.To16(), r.start.To16(), r.end.To16()) {
			return true
		}
	}
	return false
}

func bytesInRange(ip, lo, hi []byte) bool {
	for i := range ip {
		if ip[i] < lo[i] {
			return false
		}
		if ip[i] > hi[i] {
			return false
		}
	}
	return true
}
