// Package retry decides whether a failed download attempt is worth
// repeating and how long to wait before doing so.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Zero or one means a single attempt with no retries.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps both the computed backoff and server Retry-After hints.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay between successive retries.
	BackoffMultiplier float64
	// JitterMax bounds the random extra wait added to each retry sleep.
	JitterMax time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         2 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterMax:         500 * time.Millisecond,
	}
}

// Attempts returns the number of attempts a job gets, never less than one.
func (p Policy) Attempts() int {
	return max(1, p.MaxAttempts)
}

// CalculateDelay returns the backoff before retry number attempt, where
// attempt 1 is the wait after the first failure. The result is
// deterministic, non-decreasing in attempt and capped at MaxDelay.
func (p Policy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// CalculateJitter returns a uniform random duration in [0, JitterMax].
func (p Policy) CalculateJitter() time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.JitterMax) + 1))
}

// NextDelay returns the wait before retry number attempt. A server
// Retry-After hint replaces the computed backoff but is still capped at
// MaxDelay. Jitter is not included.
func (p Policy) NextDelay(attempt int, class Classification) time.Duration {
	if class.RetryAfter > 0 {
		if p.MaxDelay > 0 && class.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return class.RetryAfter
	}
	return p.CalculateDelay(attempt)
}

// ShouldRetry reports whether another attempt follows attempt number
// attempt (1-based) that failed with class.
func (p Policy) ShouldRetry(class Classification, attempt int) bool {
	return class.Type == Transient && attempt < p.Attempts()
}
