// Package retry retries transient failures with exponential backoff.
//
// The server uses it to wait for its storage backends to come up:
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
//	    return st.Connect(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Sentinel errors.
var (
	// ErrExhausted is matched by an *Error when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrPermanent is matched by an *Error when an attempt failed with an
	// error that must not be retried.
	ErrPermanent = errors.New("retry: permanent failure")

	// ErrCanceled is matched by an *Error when the context ended between
	// attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Policy configures retry behavior. Zero fields take the DefaultPolicy value.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int

	// Initial is the wait before the second attempt.
	Initial time.Duration

	// Max caps any single wait.
	Max time.Duration

	// Multiplier grows the wait after each failed attempt.
	Multiplier float64

	// Jitter spreads each wait by +/- this fraction (0 to 1).
	Jitter float64

	// Retryable reports whether err is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(err error) bool

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used for connecting to backends.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   5,
		Initial:    200 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
		Retryable:  IsRetryable,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts < 1 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	return p
}

// Backoff returns the wait after the given failed attempt (0-based),
// before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	wait := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	return time.Duration(min(wait, float64(p.Max)))
}

func (p Policy) jittered(attempt int) time.Duration {
	wait := float64(p.Backoff(attempt))
	if p.Jitter > 0 {
		spread := wait * p.Jitter
		wait += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(wait)
}

// Error describes a call that did not succeed.
type Error struct {
	Attempts int   // calls made
	Last     error // error from the last call
	Reason   error // ErrExhausted, ErrPermanent or ErrCanceled
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Last}
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if !p.Retryable(err) {
			return zero, &Error{Attempts: attempt + 1, Last: err, Reason: ErrPermanent}
		}
		if attempt+1 >= p.Attempts {
			return zero, &Error{Attempts: attempt + 1, Last: err, Reason: ErrExhausted}
		}

		wait := p.jittered(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &Error{Attempts: attempt + 1, Last: err, Reason: ErrCanceled}
		case <-timer.C:
		}
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsRetryable is the default Retryable: everything except errors marked
// Permanent and context errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
