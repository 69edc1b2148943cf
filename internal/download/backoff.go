package download

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Backoff returns a retry delay function: exponential from base, capped at
// maxRetryDelay, with up to half the delay of jitter either way.
func Backoff(base time.Duration) func(attempt int) time.Duration {
	if base <= 0 {
		base = initialRetryDelay
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		backoff := float64(base) * math.Pow(2, float64(attempt-1))
		if backoff > float64(maxRetryDelay) {
			backoff = float64(maxRetryDelay)
		}
		jitter := (rand.Float64() - 0.5) * backoff
		return time.Duration(backoff + jitter)
	}
}
