package domain

import (
	"errors"
	"time"
)

// State is a step of the per-location fetch state machine.
type State int

const (
	Attempting State = iota
	RetryWait
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case RetryWait:
		return "retry_wait"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Unbounded disables the attempt cap: transient failures are retried until
// they stop happening. A permanent failure then stalls the run.
const Unbounded = 0

// RetryPolicy controls how transient fetch failures are retried.
type RetryPolicy struct {
	// MaxAttempts caps attempts per location (first try included) for
	// transport failures. Unbounded (0) retries forever. Timeouts are
	// retried regardless of the cap.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is bounded at 10 attempts with a 5s step and a 60s cap,
// so transport failures wait 5s, 10s, ..., 45s before the location is given up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   5 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Bounded reports whether the policy ever gives up.
func (p RetryPolicy) Bounded() bool { return p.MaxAttempts != Unbounded }

// Validate rejects negative caps and non-positive delays.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return errors.New("retry max attempts must be >= 0")
	case p.BaseDelay <= 0:
		return errors.New("retry base delay must be positive")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("retry max delay must be >= base delay")
	}
	return nil
}

// Backoff returns the wait after the given failed attempt (1-based):
// min(attempt * BaseDelay, MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	// Saturate before multiplying so huge attempt counts cannot overflow.
	if time.Duration(attempt) > p.MaxDelay/p.BaseDelay {
		return p.MaxDelay
	}
	return min(time.Duration(attempt)*p.BaseDelay, p.MaxDelay)
}

// Decision is the state-machine transition taken after an attempt.
type Decision struct {
	Next State
	Wait time.Duration
}

// Decide maps the outcome of attempt n (1-based) to the next state.
// Non-retryable errors fail immediately. Timeouts always wait and retry;
// the attempt cap of a bounded policy only applies to transport failures.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	switch {
	case err == nil:
		return Decision{Next: Succeeded}
	case !IsRetryable(err):
		return Decision{Next: Failed}
	case p.Bounded() && attempt >= p.MaxAttempts && !errors.Is(err, ErrTimeout):
		return Decision{Next: Failed}
	}
	return Decision{Next: RetryWait, Wait: p.Backoff(attempt)}
}
