// Package backoff provides exponential delay calculation with full
// jitter for the session reconnect loop.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tradecore/termlink/internal/clock"
)

const maxShift = 62

// Exponential returns base * 2^attempt with overflow protection.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, d).
// Returns 0 for zero or negative d.
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// ExponentialWithJitter returns a jittered exponential delay capped at
// maxDelay. This is the "full jitter" strategy: a random value in
// [0, min(cap, base*2^attempt)).
func ExponentialWithJitter(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	d := Exponential(base, attempt)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return FullJitter(d)
}

// Wait sleeps on the injected clock for d, respecting context
// cancellation.
func Wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	return clk.Sleep(ctx, d)
}
