package scrape

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the engine.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// waiting for a rate limit slot or a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrAuthExpired is returned by a session provider when the current
	// session is no longer valid. The fetcher re-authenticates once before
	// reclassifying the failure.
	ErrAuthExpired = errors.New("session expired")

	// ErrPolicyBlocked is reported for sources the politeness predicate
	// refuses. Such sources are never fetched.
	ErrPolicyBlocked = errors.New("blocked by politeness policy")
)

// ErrorKind classifies a fetch failure for retry decisions and reporting.
type ErrorKind string

const (
	// ErrorKindNone marks a successful fetch.
	ErrorKindNone ErrorKind = ""

	// ErrorKindTransient covers timeouts, connection resets and 5xx
	// responses. Retried with exponential backoff.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindRateLimited covers 429 responses. Retried, honoring an
	// explicit Retry-After hint when the server sends one.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindNonRetriable covers 4xx responses other than 429, malformed
	// URLs and extractor parse failures. Surfaced immediately.
	ErrorKindNonRetriable ErrorKind = "non_retriable"

	// ErrorKindAuthExpired marks a failed session. Triggers one
	// re-authentication before being reclassified.
	ErrorKindAuthExpired ErrorKind = "auth_expired"

	// ErrorKindPolicyBlocked marks a source the politeness predicate
	// disallowed.
	ErrorKindPolicyBlocked ErrorKind = "policy_blocked"
)

// Retriable reports whether failures of this kind may be retried.
func (k ErrorKind) Retriable() bool {
	switch k {
	case ErrorKindTransient, ErrorKindRateLimited:
		return true
	default:
		return false
	}
}

// FetchError carries the classification and HTTP context of a failed fetch
// attempt.
type FetchError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string

	// RetryAfter is the server-provided delay hint for 429 responses.
	// Zero when the server sent none.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from an error chain. Errors that are not
// FetchErrors are treated as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrAuthExpired) {
		return ErrorKindAuthExpired
	}
	return ErrorKindTransient
}
