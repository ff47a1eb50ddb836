package notify

import (
	"math/rand"
	"time"
)

// retryDelay computes the pause before retry number attempt (1-based):
// exponential growth from base, capped, with up to 20% jitter so
// concurrent monitors don't thunder.
func retryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
