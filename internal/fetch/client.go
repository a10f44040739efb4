package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/go-scripts/rayback/internal/types"
)

// Options configures the HTTP client
type Options struct {
	// Timeout bounds the wait for response headers. Bodies are streamed
	// without an overall deadline.
	Timeout time.Duration

	UserAgent string

	// RetryAttempts is the number of extra attempts after a retryable
	// failure (network error, 429 or 5xx).
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration

	// RequestsPerSecond caps the request rate. Zero means unlimited.
	RequestsPerSecond float64
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Timeout:         60 * time.Second,
		UserAgent:       "rayback/1.0",
		RetryAttempts:   2,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

// StatusError is returned for a non-2xx response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client performs GET requests against the archive
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
}

// New creates a Client with the given options
func New(opts Options) *Client {
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.MaxIdleConnsPerHost = 32

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}
}

// GetString fetches rawURL with the given query parameters and returns the body
func (c *Client) GetString(ctx context.Context, rawURL string, query url.Values) (string, error) {
	target := rawURL
	if len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: parse %s: %w", types.ErrParse, rawURL, err)
		}
		u.RawQuery = query.Encode()
		target = u.String()
	}

	body, err := c.GetStream(ctx, target)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: read body of %s: %w", types.ErrTransport, target, err)
	}
	return string(data), nil
}

// GetStream fetches rawURL and returns the response body. The caller closes it.
func (c *Client) GetStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			log.Debug("Retrying request", "url", rawURL, "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, fmt.Errorf("%w: %w", types.ErrTransport, err)
			}
		}

		body, err := c.do(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: get %s: %w", types.ErrTransport, rawURL, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	return resp.Body, nil
}

// retryDelay returns the wait before the given retry: RetryBackoff doubled
// per attempt, capped at RetryMaxBackoff, plus up to 50% jitter. Doubling
// stops early so the result never overflows.
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.opts.RetryBackoff
	limit := c.opts.RetryMaxBackoff
	for i := 1; i < attempt && delay > 0; i++ {
		if (limit > 0 && delay >= limit) || delay > math.MaxInt64/4 {
			break
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	if delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	}
	return delay
}

// backoff waits before a retry unless ctx is done first
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.retryDelay(attempt)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
