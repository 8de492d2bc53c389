package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackoffFunc returns the wait before retry number attempt (1-based).
type BackoffFunc func(base time.Duration, attempt int) time.Duration

// RetryPolicy is the one retry loop shared by probing, segment fetches and
// single-stream transfers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     BackoffFunc
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// Exponential doubles the base delay per attempt: base, 2*base, 4*base...
// A positive maxExponent caps the attempt number used for growth.
func Exponential(maxExponent int) BackoffFunc {
	return func(base time.Duration, attempt int) time.Duration {
		n := max(attempt, 1)
		if maxExponent > 0 {
			n = min(n, maxExponent)
		}
		return base << (n - 1)
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type progressedError struct{ err error }

func (e *progressedError) Error() string { return e.err.Error() }
func (e *progressedError) Unwrap() error { return e.err }

// Progressed marks a failed attempt that still moved data forward; the
// attempt budget starts over after it.
func Progressed(err error) error {
	if err == nil {
		return nil
	}
	return &progressedError{err: err}
}

func madeProgress(err error) bool {
	var p *progressedError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts consecutive attempts fail.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential(0)
	}
	failures := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if madeProgress(err) {
			failures = 0
		}
		failures++
		if failures >= attempts {
			return fmt.Errorf("failed after %d attempts: %w", failures, err)
		}
		delay := backoff(p.BaseDelay, failures)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
