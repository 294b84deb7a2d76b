// Package backoff computes retry delays and retry-at instants for the
// auto-retry scheduler. All computations are pure and deterministic
// given (now, hint, attempt, settings), so retry windows can be unit
// tested without timing flakiness.
package backoff

import (
	"math"
	"time"

	"github.com/kaneko-ai/conductor"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max. Attempts below
// 1 are treated as 1.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// FromSettings builds the exponential strategy described by the
// persisted auto-retry policy.
func FromSettings(s conductor.Settings) *Exponential {
	return NewExponential(
		time.Duration(s.AutoRetryBaseDelaySeconds*float64(time.Second)),
		time.Duration(s.AutoRetryMaxDelaySeconds*float64(time.Second)),
	)
}

// ──────────────────────────────────────────────────
// Retry-at computation
// ──────────────────────────────────────────────────

// Delay computes the wait before auto-retry attempt number `attempt`
// (1-based, the upcoming attempt). When the failure supplied an
// explicit retry-after hint, the hint wins, clamped to [0, max delay].
// Otherwise the exponential strategy applies.
func Delay(hint *float64, attempt int, settings conductor.Settings) time.Duration {
	maxDelay := time.Duration(settings.AutoRetryMaxDelaySeconds * float64(time.Second))
	if hint != nil {
		d := time.Duration(*hint * float64(time.Second))
		if d < 0 {
			return 0
		}
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}
	return FromSettings(settings).Delay(attempt)
}

// RetryAt returns the absolute instant before which an automatic retry
// must not be dispatched: now + Delay(hint, attempt, settings).
func RetryAt(now time.Time, hint *float64, attempt int, settings conductor.Settings) time.Time {
	return now.Add(Delay(hint, attempt, settings))
}
