package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks an attempt that hit the transport deadline. Retryable.
	ErrTimeout = errors.New("request timed out")

	// ErrTransport marks a non-timeout network failure, a non-2xx response or
	// a rejected attempt while the circuit is open. Retryable under the
	// active RetryPolicy.
	ErrTransport = errors.New("transport failure")

	// ErrResponseSchema means a response arrived but did not have the expected
	// structure. Never retried; aborts the run.
	ErrResponseSchema = errors.New("unexpected response structure")

	// ErrRetriesExhausted wraps the last transient error once a bounded
	// policy gives up on a location.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrEmptyResult means no location produced a frame. The run ends without
	// touching the store.
	ErrEmptyResult = errors.New("no forecast data retrieved")

	// ErrSchemaMismatch means a batch's columns cannot be written under the
	// store's header (or frames of one run disagree on their variables).
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrCorruptStore means the existing store already violates its header.
	ErrCorruptStore = errors.New("corrupt store")

	// ErrStoreLocked means another commit holds the store lock.
	ErrStoreLocked = errors.New("store is locked")
)

// FetchError is a per-location failure: the location is skipped and the run
// continues.
type FetchError struct {
	Location Location
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.Location.Name, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient fetch failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

// FailureKind returns a short label for err, used for log fields and metric labels.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrResponseSchema):
		return "schema"
	default:
		return "error"
	}
}
