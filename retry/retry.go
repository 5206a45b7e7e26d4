// Package retry runs operations and polls conditions on a fixed or
// doubling interval, bounded by attempts, elapsed time and a context.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is used when a Policy leaves Interval unset.
const DefaultInterval = 10 * time.Millisecond

// ErrExhausted is returned when a Policy's attempt or duration bound is hit.
var ErrExhausted = errors.New("retry exhausted")

// Policy bounds a retry loop. Zero MaxAttempts and MaxDuration mean
// unbounded: only the context can stop the loop.
type Policy struct {
	// Interval is the wait between attempts.
	Interval time.Duration `yaml:"interval"`
	// MaxInterval, when greater than Interval, makes the wait double after
	// every attempt up to this ceiling.
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`
	// MaxAttempts bounds the number of attempts. Zero is unbounded.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	// MaxDuration bounds the time spent retrying. Zero is unbounded.
	MaxDuration time.Duration `yaml:"max_duration,omitempty"`
}

// Validate rejects negative bounds.
func (p Policy) Validate() error {
	if p.Interval < 0 || p.MaxInterval < 0 || p.MaxDuration < 0 {
		return fmt.Errorf("retry policy: negative duration in %+v", p)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry policy: max attempts must be >= 0, got %d", p.MaxAttempts)
	}
	return nil
}

// Unbounded reports whether only cancellation can end the loop.
func (p Policy) Unbounded() bool {
	return p.MaxAttempts == 0 && p.MaxDuration == 0
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it returns nil. attempt starts at 1.
//
// Errors:
//   - the error wrapped by Permanent, as soon as fn returns one
//   - ctx.Err() when ctx ends first
//   - an error matching ErrExhausted (and wrapping fn's last error) when a
//     bound is hit
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if p.MaxDuration > 0 && time.Since(start)+interval > p.MaxDuration {
			return fmt.Errorf("%w after %v: %w", ErrExhausted, time.Since(start).Round(time.Millisecond), err)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if p.MaxInterval > interval {
			interval = min(interval*2, p.MaxInterval)
		}
	}
}

// errNotYet is the internal retry signal for Poll.
var errNotYet = errors.New("condition not met")

// Poll calls cond until it reports true. An error from cond is permanent.
// onWait, if non-nil, runs before every wait.
func (p Policy) Poll(ctx context.Context, cond func() (bool, error), onWait func()) error {
	err := p.Do(ctx, func(int) error {
		ok, err := cond()
		if err != nil {
			return Permanent(err)
		}
		if !ok {
			if onWait != nil {
				onWait()
			}
			return errNotYet
		}
		return nil
	})
	if errors.Is(err, ErrExhausted) {
		return ErrExhausted
	}
	return err
}
