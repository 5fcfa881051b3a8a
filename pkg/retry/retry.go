// Package retry implements the task-level retry contract: attempt a
// step up to N times, deciding between attempts with success/retry
// predicates, sleeping according to a backoff policy, and optionally
// consulting a circuit breaker so a consistently failing task fails
// fast instead of being retried forever.
package retry

import (
	"context"
	"time"

	"github.com/nexuscfg/nexus/pkg/circuit"
)

// Backoff selects the delay growth between attempts.
type Backoff string

const (
	Constant    Backoff = "constant"
	Linear      Backoff = "linear"
	Exponential Backoff = "exponential"
)

// Policy configures attempt count and backoff.
type Policy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  Backoff
}

// delayFor returns the sleep duration before attempt number `attempt`
// (1-based: the delay taken after attempt 1 fails, before attempt 2).
func (p Policy) delayFor(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Backoff {
	case Linear:
		d = p.Delay * time.Duration(attempt)
	case Exponential:
		d = p.Delay
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	default: // Constant
		d = p.Delay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Attempt is a single try of the wrapped operation; it returns the
// output to hand back to the caller and whether the attempt should be
// treated as a failure for retry/circuit-breaker purposes.
type Attempt[T any] func(ctx context.Context, attemptNumber int) (output T, failed bool, err error)

// Predicate decides, given the latest output, whether a condition holds.
// Until (success predicate) and RetryWhen (retry predicate) are both
// expressed this way so the caller can plug in the expression evaluator.
type Predicate[T any] func(output T) bool

// Run executes op up to policy.Attempts times. until, when non-nil,
// overrides the default success predicate ("!failed"); retryWhen, when
// non-nil, overrides the default retry predicate ("failed"). If breaker
// and circuitName are set, the circuit is consulted before the first
// attempt and updated after the run.
func Run[T any](
	ctx context.Context,
	policy Policy,
	op Attempt[T],
	until Predicate[T],
	retryWhen Predicate[T],
	breaker *circuit.Breaker,
	circuitName string,
) (output T, attemptsUsed int, circuitBlocked bool, timeUntilRetry time.Duration, err error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	if breaker != nil && circuitName != "" {
		allowed, remaining := breaker.Allow(circuitName)
		if !allowed {
			var zero T
			return zero, 0, true, remaining, nil
		}
	}

	var lastOutput T
	var lastFailed bool

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return lastOutput, attempt - 1, false, 0, ctx.Err()
		default:
		}

		out, failed, runErr := op(ctx, attempt)
		lastOutput, lastFailed = out, failed
		attemptsUsed = attempt
		if runErr != nil {
			err = runErr
		}

		success := !failed
		if until != nil {
			success = until(out)
		}
		if success {
			if breaker != nil && circuitName != "" {
				breaker.RecordSuccess(circuitName)
			}
			return out, attemptsUsed, false, 0, err
		}

		shouldRetry := failed
		if retryWhen != nil {
			shouldRetry = retryWhen(out)
		}
		if !shouldRetry || attempt == attempts {
			break
		}

		if d := policy.delayFor(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastOutput, attemptsUsed, false, 0, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if breaker != nil && circuitName != "" {
		if lastFailed {
			breaker.RecordFailure(circuitName)
		} else {
			breaker.RecordSuccess(circuitName)
		}
	}

	return lastOutput, attemptsUsed, false, 0, err
}
