// Package fetch is the single rate-gated HTTP GET client every stage
// that talks to the upstream site goes through. One Client instance is
// shared per run, so back-to-back stages cannot burst the upstream.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"pts-reporter/internal/logger"
)

// UserAgent identifies the reporter to the upstream site.
const UserAgent = "PTSRankingReporter/1.0"

// maxBodyBytes caps response reads; chart images stay well under this.
const maxBodyBytes = 8 << 20

// Doer is the subset of *http.Client the fetch client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs rate-gated HTTP GETs against the upstream host.
type Client struct {
	http    Doer
	gate    *rate.Limiter
	headers map[string]string
	retry   RetryPolicy
}

// Option configures the fetch client.
type Option func(*Client)

// WithDoer replaces the underlying HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
// No effect after WithDoer.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if hc, ok := c.http.(*http.Client); ok && d > 0 {
			hc.Timeout = d
		}
	}
}

// WithInterval sets the minimum spacing between requests.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.gate = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithHeader sets a default header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithRetryPolicy sets the policy used by GetWithRetry.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a fetch client. Defaults: 30s request timeout, 1s
// inter-request interval, three retry attempts.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		gate:    rate.NewLimiter(rate.Every(time.Second), 1),
		headers: map[string]string{"User-Agent": UserAgent},
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs one rate-gated GET and returns the raw body. Failures
// come back as a classified *Error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	logger.Debug(ctx, "HTTP GET", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(url, err)
	}
	return body, nil
}

// GetWithRetry performs Get with the client's retry policy, retrying
// only failures Error.Retryable allows.
func (c *Client) GetWithRetry(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.retry.Backoff(), func(ctx context.Context) error {
		b, err := c.Get(ctx, url)
		if err != nil {
			var fe *Error
			if errors.As(err, &fe) && fe.Retryable() {
				logger.Warn(ctx, "Fetch failed, will retry", "url", url, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func classify(url string, err error) *Error {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	case errors.As(err, &nerr) && nerr.Timeout():
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	default:
		return &Error{Kind: KindNetwork, URL: url, Err: err}
	}
}
