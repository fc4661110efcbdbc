package fetch

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes how many attempts to make and how to back off
// between them. It is a plain value so tests can use sub-millisecond
// backoff without touching the clock.
type RetryPolicy struct {
	Attempts int           // total attempts including the first
	Base     time.Duration // first backoff interval, doubled each retry
	Jitter   time.Duration // optional jitter added to each interval
}

// DefaultRetryPolicy mirrors the upstream scraper behavior: three
// attempts with a two second starting backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 2 * time.Second}
}

// Backoff materializes the policy as a go-retry backoff.
func (p RetryPolicy) Backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
