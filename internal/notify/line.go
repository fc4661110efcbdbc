// Package notify delivers reports through LINE Notify. The documented
// channel limits are enforced as hard preconditions before anything is
// sent, and an in-process ledger tracks sends against the hourly quota
// in case the caller runs more than once per hour.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"

	"pts-reporter/internal/fetch"
	"pts-reporter/internal/logger"
	"pts-reporter/internal/types"
)

// DefaultEndpoint is the LINE Notify API endpoint.
const DefaultEndpoint = "https://notify-api.line.me/api/notify"

// Documented LINE Notify limits.
const (
	MaxMessageChars    = 1000
	MaxImageBytes      = 3 << 20
	MaxMessagesPerHour = 1000
	MaxImagesPerHour   = 50
)

// Doer is the subset of *http.Client the delivery client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends report segments to LINE Notify.
type Client struct {
	http        Doer
	token       string
	endpoint    string
	retry       fetch.RetryPolicy
	inlineImage bool // channel capability: image rides with the first message
	clock       func() time.Time

	mu       sync.Mutex
	sentAt   []time.Time
	imagesAt []time.Time
}

// Option configures the delivery client.
type Option func(*Client)

// WithDoer replaces the underlying HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithEndpoint overrides the API endpoint (tests).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithRetryPolicy sets the backoff policy for transient failures.
func WithRetryPolicy(p fetch.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithClock overrides the time source for the hourly ledger (tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// WithInlineImage sets whether the channel accepts an image on the same
// call as the message. LINE Notify does; a channel that does not gets a
// separate image message instead.
func WithInlineImage(inline bool) Option {
	return func(c *Client) { c.inlineImage = inline }
}

// NewClient creates a delivery client. The access token is required.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("notify: access token is required")
	}
	c := &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		token:       token,
		endpoint:    DefaultEndpoint,
		retry:       fetch.RetryPolicy{Attempts: 3, Base: time.Second},
		inlineImage: true,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Deliver sends each report segment as one message in order. Delivered
// segments are never retried or rolled back; a permanent rejection
// aborts the remaining segments.
func (c *Client) Deliver(ctx context.Context, report types.Report) (types.DeliveryResult, error) {
	var res types.DeliveryResult

	for i, seg := range report.Segments {
		if utf8.RuneCountInString(seg) > MaxMessageChars {
			res.NotAttempted = len(report.Segments)
			return res, &Error{Kind: KindRejected, Segment: i,
				Err: fmt.Errorf("segment %d exceeds %d characters", i, MaxMessageChars)}
		}
	}

	image := report.Image
	if len(image) > MaxImageBytes {
		logger.Warn(ctx, "Chart image exceeds channel size limit, sending without it",
			"code", report.ImageCode, "bytes", len(image))
		image = nil
	}

	wantSends := len(report.Segments)
	if image != nil && !c.inlineImage {
		wantSends++
	}
	if err := c.reserveQuota(wantSends, image != nil); err != nil {
		res.NotAttempted = len(report.Segments)
		return res, err
	}

	for i, seg := range report.Segments {
		var img []byte
		if i == 0 && c.inlineImage {
			img = image
		}
		if err := c.sendWithRetry(ctx, i, seg, img); err != nil {
			res.Failed = 1
			res.NotAttempted = len(report.Segments) - i - 1
			return res, err
		}
		c.recordSend(img != nil)
		res.Delivered++
		if img != nil {
			res.ImageAttached = true
		}
	}

	if image != nil && !c.inlineImage {
		if err := c.sendWithRetry(ctx, len(report.Segments), "📊 チャート", image); err != nil {
			return res, err
		}
		c.recordSend(true)
		res.ImageAttached = true
	}

	return res, nil
}

// SendError pushes a short failure notification. Best effort: callers
// treat its own failure as non-fatal.
func (c *Client) SendError(ctx context.Context, msg string) error {
	var b strings.Builder
	b.WriteString("⚠️ PTSランキング取得エラー\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	b.WriteString(msg + "\n")
	fmt.Fprintf(&b, "\n時刻: %s", c.clock().Format("2006/01/02 15:04:05"))

	if err := c.reserveQuota(1, false); err != nil {
		return err
	}
	if err := c.sendWithRetry(ctx, 0, b.String(), nil); err != nil {
		return err
	}
	c.recordSend(false)
	return nil
}

// sendWithRetry retries transient failures (429 and 5xx) with
// exponential backoff; a rejection is returned as-is.
func (c *Client) sendWithRetry(ctx context.Context, segment int, message string, image []byte) error {
	err := retry.Do(ctx, c.retry.Backoff(), func(ctx context.Context) error {
		err := c.send(ctx, message, image)
		if err == nil {
			return nil
		}
		var de *Error
		if errors.As(err, &de) && de.Kind == KindRejected {
			return err
		}
		logger.Warn(ctx, "Delivery failed, will retry", "segment", segment, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == KindRejected {
		de.Segment = segment
		return de
	}
	return &Error{Kind: KindExhausted, Segment: segment, Err: err}
}

func (c *Client) send(ctx context.Context, message string, image []byte) error {
	var (
		body        io.Reader
		contentType string
	)

	if image != nil {
		buf := new(bytes.Buffer)
		w := multipart.NewWriter(buf)
		if err := w.WriteField("message", message); err != nil {
			return fmt.Errorf("build multipart: %w", err)
		}
		part, err := w.CreateFormFile("imageFile", "chart.png")
		if err != nil {
			return fmt.Errorf("build multipart: %w", err)
		}
		if _, err := part.Write(image); err != nil {
			return fmt.Errorf("build multipart: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("build multipart: %w", err)
		}
		body = buf
		contentType = w.FormDataContentType()
	} else {
		form := url.Values{"message": {message}}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post notify: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &Error{Kind: KindRejected, Status: resp.StatusCode}
	default:
		return &Error{Kind: KindRateLimited, Status: resp.StatusCode,
			Err: fmt.Errorf("server error %d", resp.StatusCode)}
	}
}

// reserveQuota checks the hourly send ledger before any send happens.
func (c *Client) reserveQuota(messages int, withImage bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock().Add(-time.Hour)
	c.sentAt = pruneBefore(c.sentAt, cutoff)
	c.imagesAt = pruneBefore(c.imagesAt, cutoff)

	if len(c.sentAt)+messages > MaxMessagesPerHour {
		return &Error{Kind: KindRateLimited,
			Err: fmt.Errorf("hourly message quota would be exceeded (%d sent)", len(c.sentAt))}
	}
	if withImage && len(c.imagesAt)+1 > MaxImagesPerHour {
		return &Error{Kind: KindRateLimited,
			Err: fmt.Errorf("hourly image quota would be exceeded (%d sent)", len(c.imagesAt))}
	}
	return nil
}

func (c *Client) recordSend(withImage bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.sentAt = append(c.sentAt, now)
	if withImage {
		c.imagesAt = append(c.imagesAt, now)
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
