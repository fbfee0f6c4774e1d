// Package retry wraps venue and decision-service calls with bounded
// retry/backoff. On exhaustion the caller skips its current unit of work;
// a failed call never turns into fabricated data.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"tandem/internal/logger"
)

// ErrExternalUnavailable marks a call that failed every attempt.
var ErrExternalUnavailable = errors.New("retry: external unavailable")

var errPermanent = errors.New("retry: permanent")

// Permanent marks an error that must not be retried (caller errors,
// schema violations). Do returns the original error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }
func (p *permanentError) Is(target error) bool {
	return target == errPermanent || errors.Is(p.err, target)
}

// Policy controls attempt count and backoff schedule.
type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Timeout  time.Duration // per-attempt bound, 0 means none
}

// DefaultPolicy matches the orchestrator contract: up to 3 attempts with
// increasing backoff.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Min: 500 * time.Millisecond, Max: 5 * time.Second, Timeout: 30 * time.Second}
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// cancelled, or attempts are exhausted. Exhaustion yields
// ErrExternalUnavailable wrapping the last error.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2, Jitter: true}
	if b.Min <= 0 {
		b.Min = 500 * time.Millisecond
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := b.Duration()
		logger.Warnf("retry: %s attempt %d/%d failed, next in %s: %v", name, attempt, attempts, wait.Truncate(time.Millisecond), err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrExternalUnavailable, name, attempts, lastErr)
}

// Do runs fn under the default policy.
func Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return DefaultPolicy().Do(ctx, name, fn)
}
