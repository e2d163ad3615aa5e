package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Search traffic comes from a handful of local clients (CLI, UI, the
// odd script), so idle buckets are evicted aggressively rather than
// kept around for a long tail of addresses.
const (
	defaultIdleAfter  = 10 * time.Minute
	defaultSweepEvery = 5 * time.Minute
)

// RateLimiter enforces per-client request limits using token buckets,
// one bucket per remote address.
type RateLimiter struct {
	limiters   sync.Map   // key → *limiterEntry
	r          rate.Limit // refill rate (requests per second)
	burst      int
	idleAfter  time.Duration
	sweepEvery time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per
// key, with the default idle-eviction policy. rpm <= 0 disables
// limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	return newRateLimiter(rpm, burst, defaultIdleAfter, defaultSweepEvery)
}

func newRateLimiter(rpm, burst int, idleAfter, sweepEvery time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl := &RateLimiter{
		r:          r,
		burst:      burst,
		idleAfter:  idleAfter,
		sweepEvery: sweepEvery,
	}

	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.r == 0 {
		return true
	}
	entry := rl.getOrCreate(key)
	if !entry.limiter.Allow() {
		slog.Warn("api.rate_limited", "key", key)
		return false
	}
	entry.lastSeen = time.Now()
	return true
}

func (rl *RateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.r, rl.burst),
		lastSeen: time.Now(),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

// tracked reports whether a bucket currently exists for key.
func (rl *RateLimiter) tracked(key string) bool {
	_, ok := rl.limiters.Load(key)
	return ok
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.sweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-rl.idleAfter)
		rl.limiters.Range(func(key, value any) bool {
			if value.(*limiterEntry).lastSeen.Before(cutoff) {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}
