package httpapi

import (
	"sync"
	"time"
)

// sweepEvery is how often Allow evicts idle buckets.
const sweepEvery = time.Minute

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// rateLimiter is a per-client token bucket for the ingest endpoints.
// A non-positive rate disables limiting.
type rateLimiter struct {
	mu    sync.Mutex
	rps   float64
	burst int
	bkts  map[string]*bucket // key: ip
	now   func() time.Time

	lastSweep time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{rps: rps, burst: burst, bkts: make(map[string]*bucket), now: time.Now}
}

func (rl *rateLimiter) Allow(key string) bool {
	if rl.rps <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepEvery {
		rl.sweep(now)
	}
	bkt, ok := rl.bkts[key]
	if !ok {
		bkt = &bucket{tokens: float64(rl.burst), lastRefill: now}
		rl.bkts[key] = bkt
	}

	elapsed := now.Sub(bkt.lastRefill).Seconds()
	bkt.tokens = min(float64(rl.burst), bkt.tokens+elapsed*rl.rps)
	bkt.lastRefill = now

	if bkt.tokens >= 1 {
		bkt.tokens -= 1
		return true
	}
	return false
}

// sweep drops buckets that have refilled to burst. A new bucket for the same
// client starts full, so forgetting them changes nothing.
func (rl *rateLimiter) sweep(now time.Time) {
	refill := time.Duration(float64(rl.burst) / rl.rps * float64(time.Second))
	for k, b := range rl.bkts {
		if now.Sub(b.lastRefill) >= refill {
			delete(rl.bkts, k)
		}
	}
	rl.lastSweep = now
}
