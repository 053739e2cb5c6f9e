package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff spaces out sends while the collector keeps failing. The wait after
// the k-th consecutive failure is Initial*Factor^(k-1), capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter spreads each wait by up to this fraction either way.
	Jitter float64
	// Rand returns values in [0, 1). Nil uses math/rand.
	Rand func() float64

	failures int
}

// DefaultBackoff is what a Sender uses when Options.Backoff is unset.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 5 * time.Minute, Factor: 2, Jitter: 0.2}
}

func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures is the number of Next calls since the last Reset.
func (b *Backoff) Failures() int {
	return b.failures
}

// Next records one more failure and returns how long to wait. A zero Max
// caps at the default.
func (b *Backoff) Next() time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	limit := b.Max
	if limit <= 0 {
		limit = DefaultBackoff().Max
	}
	wait := math.Min(float64(b.Initial)*math.Pow(factor, float64(min(b.failures, 64))), float64(limit))
	b.failures++

	if b.Jitter > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		wait *= 1 + (r()*2-1)*b.Jitter
	}
	return max(time.Duration(wait), time.Millisecond)
}
