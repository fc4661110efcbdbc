package fetch

import (
	"fmt"
	"net/http"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindTimeout marks deadline and timeout failures.
	KindTimeout Kind = iota
	// KindNetwork marks transport-level failures (DNS, refused, reset).
	KindNetwork
	// KindHTTPStatus marks a completed request with a non-200 status.
	KindHTTPStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	}
	return "unknown"
}

// Error is a classified fetch failure for a single resource.
type Error struct {
	Kind   Kind
	Status int // set when Kind is KindHTTPStatus
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same resource.
// 4xx statuses other than 429 are permanent for that resource.
func (e *Error) Retryable() bool {
	if e.Kind != KindHTTPStatus {
		return true
	}
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status < 400 || e.Status >= 500
}
