package notify

import "fmt"

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// KindRateLimited marks 429 responses, transient server errors, and
	// the hourly quota precondition.
	KindRateLimited ErrorKind = iota
	// KindRejected marks permanent 4xx rejections; remaining segments
	// are not attempted.
	KindRejected
	// KindExhausted marks a segment whose retry budget ran out.
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Error is a classified delivery failure, scoped to a segment when the
// failure happened mid-report.
type Error struct {
	Kind    ErrorKind
	Status  int
	Segment int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver segment %d: %s: %v", e.Segment, e.Kind, e.Err)
	}
	return fmt.Sprintf("deliver segment %d: %s: status %d", e.Segment, e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether delivery of remaining segments must stop.
func (e *Error) Permanent() bool { return e.Kind == KindRejected }
