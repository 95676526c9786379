package session

import (
	"math/rand/v2"
	"time"
)

// Reconnect pacing defaults.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 15 * time.Second
	DefaultMaxAttempts = 5
)

// backoff computes the wait before reconnect attempt n (0-based):
// base doubled per attempt, capped, with ±25% jitter so two peers that
// dropped together do not retry in lockstep.
func backoff(n int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < n && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2+1)) - d/4
	return d + jitter
}
