package realtime

import (
	"math/rand/v2"
	"time"
)

// Backoff is the reconnection schedule: exponential from Initial, doubling
// up to Max, with ±Jitter randomization, for at most MaxAttempts attempts.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Jitter      float64
	MaxAttempts int

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns 1s doubling to 30s, ±50%, 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Jitter:      0.5,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before the given attempt, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	if d > b.Max {
		d = b.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Exhausted reports whether attempt exceeds the attempt budget.
// A non-positive MaxAttempts retries forever.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
