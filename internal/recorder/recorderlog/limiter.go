package recorderlog

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket for repetitive warnings such as queue
// overflow, which can fire at sensor rate. A key gets `burst` messages per
// window; the rest are counted and reported with the next allowed one.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	suppressed uint64
}

// NewLimiter creates a limiter allowing burst messages per window per key.
func NewLimiter(burst int, window time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		burst:   burst,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether a message for key may be emitted. When it returns
// true, suppressed is the number of messages dropped since the last one.
func (rl *Limiter) Allow(key string) (ok bool, suppressed uint64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &bucket{tokens: rl.burst - 1, lastRefill: now}
		return true, 0
	}

	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.burst
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		suppressed = b.suppressed
		b.suppressed = 0
		return true, suppressed
	}

	b.suppressed++
	return false, 0
}

// Warn logs msg on l if the key's bucket allows it, attaching the number of
// suppressed repeats.
func (rl *Limiter) Warn(l Logger, key, msg string, fields ...Field) {
	ok, suppressed := rl.Allow(key)
	if !ok {
		return
	}
	if suppressed > 0 {
		fields = append(fields, Uint64("suppressed", suppressed))
	}
	l.Warn(msg, fields...)
}
