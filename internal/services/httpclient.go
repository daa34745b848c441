package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"golang.org/x/time/rate"
)

// HTTPClient wraps the standard http.Client with retry logic, rate limiting
// and the identifying headers OAI-PMH repositories ask harvesters to send.
type HTTPClient struct {
	client      *http.Client
	retryConfig lib.RetryConfig
	limiter     *rate.Limiter
	userAgent   string
	from        string
	logger      *lib.Logger
	bytesRead   atomic.Int64
}

// ClientOption configures an HTTPClient
type ClientOption func(*HTTPClient)

// WithRateLimit caps the request rate. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) { c.userAgent = ua }
}

// WithFrom sets the From header, the contact address repositories use to
// reach harvester operators.
func WithFrom(from string) ClientOption {
	return func(c *HTTPClient) { c.from = from }
}

// WithTransport replaces the underlying round tripper
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *HTTPClient) { c.client.Transport = rt }
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration
func NewHTTPClient(timeout time.Duration, retryConfig models.RetryConfig, logger *lib.Logger, opts ...ClientOption) *HTTPClient {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	c := &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retryConfig: lib.NewRetryConfigFromModel(retryConfig),
		logger:      logger.Named("http"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClientFromConfig builds a client from the http and retry sections
// of the project configuration.
func NewHTTPClientFromConfig(cfg models.ProjectConfig, logger *lib.Logger) *HTTPClient {
	return NewHTTPClient(
		cfg.HTTP.Timeout(),
		cfg.Retry,
		logger,
		WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		WithUserAgent(cfg.HTTP.UserAgent),
		WithFrom(cfg.HTTP.From),
	)
}

// DefaultHTTPClient creates an HTTP client with sensible defaults
func DefaultHTTPClient() *HTTPClient {
	defaults := models.DefaultConfig()
	return NewHTTPClientFromConfig(defaults, lib.DefaultLogger)
}

// BytesRead returns the number of response body bytes consumed so far
func (c *HTTPClient) BytesRead() int64 {
	return c.bytesRead.Load()
}

// Get performs an HTTP GET request with retry logic
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.Do(req)
}

// Do executes an HTTP request with retry logic for transient errors.
//
// Transient statuses are retried while attempts remain; the response of the
// final attempt is returned as-is so callers can classify the status
// themselves. Request bodies are replayed through req.GetBody.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.setHeaders(req)

	var lastErr error
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to reset request body: %w", err)
			}
			req.Body = body
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		startTime := time.Now()
		resp, err := c.client.Do(req)
		duration := time.Since(startTime)

		lib.LogServiceCall(c.logger, req.URL.Host, req.URL.Path, req.Method)

		lastAttempt := attempt == c.retryConfig.MaxAttempts-1

		if err != nil {
			lastErr = err
			if !lib.IsNetworkError(err) || lastAttempt || ctx.Err() != nil {
				return nil, err
			}
			lib.LogRetry(c.logger, req.URL.String(), attempt, c.retryConfig.MaxAttempts, err)
			if err := lib.Sleep(ctx, c.backoff(attempt, nil)); err != nil {
				return nil, lib.CombineErrors(err, lastErr)
			}
			continue
		}

		lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)

		if lib.ClassifyHTTPError(resp.StatusCode) == models.ErrorTypeTransient && !lastAttempt {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			lib.LogRetry(c.logger, req.URL.String(), attempt, c.retryConfig.MaxAttempts, lastErr)

			wait := c.backoff(attempt, resp)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if err := lib.Sleep(ctx, wait); err != nil {
				return nil, lib.CombineErrors(err, lastErr)
			}
			continue
		}

		if resp.Body != nil && resp.Body != http.NoBody {
			resp.Body = &ProgressReader{
				ReadCloser: resp.Body,
				Callback:   func(n int64) { c.bytesRead.Add(n) },
			}
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.from != "" && req.Header.Get("From") == "" {
		req.Header.Set("From", c.from)
	}
}

// backoff honours a Retry-After header in seconds (OAI-PMH flow control),
// capped at the configured maximum.
func (c *HTTPClient) backoff(attempt int, resp *http.Response) time.Duration {
	wait := lib.CalculateBackoff(attempt, c.retryConfig.InitialBackoffMs, c.retryConfig.MaxBackoffMs)
	if resp == nil {
		return wait
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		retryAfter := time.Duration(secs) * time.Second
		maxWait := time.Duration(c.retryConfig.MaxBackoffMs) * time.Millisecond
		if retryAfter > maxWait {
			retryAfter = maxWait
		}
		if retryAfter > wait {
			wait = retryAfter
		}
	}
	return wait
}

// ProgressReader wraps a response body and reports each chunk read
type ProgressReader struct {
	io.ReadCloser
	Callback func(int64)
	total    int64
}

func (r *ProgressReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.total += int64(n)
	if r.Callback != nil && n > 0 {
		r.Callback(int64(n))
	}
	return n, err
}

// Total returns the bytes read through this reader
func (r *ProgressReader) Total() int64 {
	return r.total
}
