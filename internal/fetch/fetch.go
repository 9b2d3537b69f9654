// Package fetch provides the HTTP client used by the extractor and the
// discoverers: browser-like headers, per-attempt deadlines, pooled
// connections with an explicit Open/Close lifecycle, and bounded retry
// with exponential backoff for transient failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"watchdog/internal/logger"
)

const (
	// DefaultUserAgent is a browser-like User-Agent; some publications
	// serve reduced markup to obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries bounds the retry count for transient failures.
	DefaultMaxRetries = 3
	// DefaultBackoffBase is the exponential backoff base: the wait
	// before attempt n is base^n, so 2s, 4s, 8s by default.
	DefaultBackoffBase = 2 * time.Second
)

// TerminalError is a non-retryable fetch failure: a 4xx response, or a
// transient failure whose retries were exhausted.
type TerminalError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TerminalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// transientError marks a retryable outcome: a network failure or a 5xx.
type transientError struct {
	statusCode int
	err        error
}

func (e *transientError) Error() string {
	if e.statusCode != 0 {
		return fmt.Sprintf("status %d", e.statusCode)
	}
	return e.err.Error()
}

func (e *transientError) Unwrap() error { return e.err }

// Result is a successful fetch. FinalURL is the URL after redirects,
// which the archive discoverer inspects to detect redirect-to-base.
type Result struct {
	Body       string
	FinalURL   string
	StatusCode int
}

// Client fetches pages with retries. The zero value is not usable; use New.
//
// For batch workloads call Open once to pool TCP connections across many
// fetches and Close when done. A Client that was never opened still works:
// each call uses a private temporary pool.
type Client struct {
	userAgent   string
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration

	mu     sync.Mutex
	shared *http.Client // non-nil between Open and Close
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithTimeout overrides the per-attempt deadline.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithMaxRetries overrides the retry budget for transient failures.
func WithMaxRetries(n int) Option { return func(c *Client) { c.maxRetries = n } }

// WithBackoffBase overrides the exponential backoff base.
func WithBackoffBase(d time.Duration) Option { return func(c *Client) { c.backoffBase = d } }

// New creates a fetch client with the default policy.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent:   DefaultUserAgent,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open switches the client to a shared pooled transport. Safe to call
// more than once.
func (c *Client) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared != nil {
		return
	}
	c.shared = &http.Client{Transport: newTransport()}
}

// Close tears down the shared pool. Fetches after Close fall back to
// per-call pools.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared == nil {
		return
	}
	if t, ok := c.shared.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	c.shared = nil
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 8
	return t
}

// Fetch GETs the URL, following redirects and decompressing the body.
// Transient failures (network errors, 5xx) are retried up to the
// configured budget with exponential backoff; 4xx fails fast with a
// TerminalError carrying the status code. Exhausted retries are also
// converted to a TerminalError.
func (c *Client) Fetch(ctx context.Context, url string) (*Result, error) {
	httpClient, release := c.acquireClient()
	defer release()

	var result *Result
	var lastTransient *transientError

	operation := func() error {
		res, err := c.attempt(ctx, httpClient, url)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				lastTransient = transient
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx))
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) {
			return nil, terminal
		}
		// Retries exhausted on a transient failure.
		statusCode := 0
		if lastTransient != nil {
			statusCode = lastTransient.statusCode
		}
		logger.Warn("Fetch retries exhausted", "url", url, "max_retries", c.maxRetries)
		return nil, &TerminalError{URL: url, StatusCode: statusCode, Err: err}
	}
	return result, nil
}

// newBackOff builds the retry policy. Waits follow base^attempt: a 2s
// base yields 2s, 4s, 8s and a 3s base yields 3s, 9s, 27s. Sub-second
// bases stay flat instead of shrinking.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.Multiplier = math.Max(c.backoffBase.Seconds(), 1)
	bo.RandomizationFactor = 0
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0
	return bo
}

// attempt performs one GET with its own deadline.
func (c *Client) attempt(ctx context.Context, httpClient *http.Client, url string) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TerminalError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &transientError{statusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, &TerminalError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{err: err}
	}

	return &Result{
		Body:       string(body),
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}, nil
}

func (c *Client) acquireClient() (*http.Client, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared != nil {
		return c.shared, func() {}
	}
	// Lifecycle-less call: private temporary pool, torn down after use.
	t := newTransport()
	return &http.Client{Transport: t}, t.CloseIdleConnections
}

// StatusCode returns the HTTP status of a terminal fetch error, or 0.
func StatusCode(err error) int {
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return terminal.StatusCode
	}
	return 0
}
