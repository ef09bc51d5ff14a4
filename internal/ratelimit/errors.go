package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Failure classes for downstream call errors. The executor reacts
// differently to each: rate-limited and unavailable failures are
// retried, already-done is treated as success, permanent failures
// propagate immediately, and anything unclassified gets exponential
// backoff.

// RateLimitedError signals the upstream rejected the call and asked
// for a cooldown before the next attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// UnavailableError signals a transient upstream outage.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return "upstream unavailable: " + e.Err.Error() }
func (e *UnavailableError) Unwrap() error { return e.Err }

// PermanentError signals a failure that retrying can never fix, such
// as a missing or forbidden target.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// AlreadyDoneError signals an idempotent operation reporting a no-op.
// The executor treats it as success.
type AlreadyDoneError struct {
	Err error
}

func (e *AlreadyDoneError) Error() string { return "already done: " + e.Err.Error() }
func (e *AlreadyDoneError) Unwrap() error { return e.Err }

// RateLimited wraps err as a rate-limited failure.
func RateLimited(err error, retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter, Err: err}
}

// Unavailable wraps err as a transient outage.
func Unavailable(err error) error { return &UnavailableError{Err: err} }

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error { return &PermanentError{Err: err} }

// AlreadyDone wraps err as a benign no-op result.
func AlreadyDone(err error) error { return &AlreadyDoneError{Err: err} }

// ExhaustedError reports that the attempt budget ran out. It preserves
// the last underlying cause for diagnostics.
type ExhaustedError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Key, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// class names used for metrics labels.
func classOf(err error) string {
	var (
		rl *RateLimitedError
		ua *UnavailableError
		pe *PermanentError
		ad *AlreadyDoneError
	)

	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &ua):
		return "unavailable"
	case errors.As(err, &pe):
		return "permanent"
	case errors.As(err, &ad):
		return "already_done"
	default:
		return "unclassified"
	}
}
