// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 5 * time.Minute
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure. Each later wait doubles.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy returns the standard policy: three attempts, waiting 2s then 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay returns the wait after the failed attempt with the given 0-based
// index: BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
		// overflow guard
		if delay <= 0 {
			if p.MaxDelay > 0 {
				return p.MaxDelay
			}
			return time.Duration(1<<63 - 1)
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Attempt records one failed try.
type Attempt struct {
	Number   int
	Err      error
	Duration time.Duration
}

// ExhaustedError is returned when every attempt failed. It carries the full
// attempt history; Unwrap yields the last error.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "retry: no attempts made"
	}
	msgs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msgs = append(msgs, fmt.Sprintf("attempt %d: %v", a.Number, a.Err))
	}
	return fmt.Sprintf("retry: all %d attempts failed: %s", len(e.Attempts), strings.Join(msgs, "; "))
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Last returns the last attempt's error.
func (e *ExhaustedError) Last() error {
	return e.Unwrap()
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Option customises a Do call.
type Option func(*options)

type options struct {
	onRetry func(attempt Attempt, wait time.Duration)
}

// OnRetry registers a hook called after each failed attempt that will be
// retried, with the wait that follows.
func OnRetry(fn func(attempt Attempt, wait time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do runs op until it succeeds, fails permanently, or the policy's attempts
// are used up. attempt is 0-based. There is no wait after the final attempt.
// Cancelling ctx during a wait aborts with the context's error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	maxAttempts := p.attempts()
	history := make([]Attempt, 0, maxAttempts)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := time.Now()
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}

		rec := Attempt{Number: attempt + 1, Err: err, Duration: time.Since(start)}
		history = append(history, rec)

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		if attempt == maxAttempts-1 {
			break
		}

		wait := p.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(rec, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: history}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, opts ...Option) error {
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	}, opts...)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
