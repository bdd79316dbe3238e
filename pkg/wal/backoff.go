package wal

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with full jitter: bounded
// growth, randomized to avoid synchronized retry storms across agents.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultBackoff matches the publish-loop retry policy: 500ms base, factor
// 2, capped at 60s, full jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Factor: 2, Cap: 60 * time.Second}
}

// Next returns the delay before attempt number `attempts` (1-indexed: the
// first retry after an initial failure passes attempts=1), picked uniformly
// at random in [0, min(cap, base*factor^attempts)], both ends inclusive.
func (b Backoff) Next(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	ceiling := float64(b.Base) * pow(b.Factor, attempts)
	if ceiling > float64(b.Cap) || ceiling <= 0 {
		ceiling = float64(b.Cap)
	}

	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
