package service

import (
	"math/rand"
	"time"
)

// retryBackoff doubles the base delay per attempt and adds up to 25% jitter
// so retrying workers do not synchronize. attempt is zero-based.
func retryBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}
