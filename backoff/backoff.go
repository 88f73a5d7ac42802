// Package backoff computes retry delays for failed step bodies. Strategies
// are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval.
type Constant time.Duration

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically:
// Base * Multiplier^(attempt-1), capped at Max. With Jitter set the
// result is drawn uniformly from [0, delay] (full jitter).
type Exponential struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponential returns a doubling strategy without jitter.
func NewExponential(base, maxDelay time.Duration) Exponential {
	return Exponential{Base: base, Max: maxDelay, Multiplier: 2}
}

// WithJitter returns a copy of e that applies full jitter.
func (e Exponential) WithJitter() Exponential {
	e.Jitter = true
	return e
}

// Delay returns the delay for the given attempt.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(e.Base) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && (d > float64(e.Max) || math.IsInf(d, 1)) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d *= rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(d)
}

// Default returns the strategy used by the executor when none is
// configured: exponential from 1s to 5m with full jitter. Step bodies
// usually fail on unavailable storage, which recovers in minutes rather
// than seconds.
func Default() Strategy {
	return NewExponential(time.Second, 5*time.Minute).WithJitter()
}
