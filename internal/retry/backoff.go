// Package retry provides exponential backoff for external service calls.
package retry

import (
	"math/rand/v2"
	"time"
)

const maxBackoff = 30 * time.Second

// Backoff returns exponential backoff with jitter for the given attempt.
// Attempt 0 is the first try and waits nothing; each retry doubles the base
// delay, capped at 30 seconds, with random jitter of -25% to +25%.
func Backoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	// Cap the shift to avoid overflow
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
