package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket, keyed by the caller's bearer
// token or remote IP. Grounded on internal/provider.Registry's
// per-provider use of golang.org/x/time/rate — the same library, the
// same "one bucket per key" shape, applied to inbound requests instead
// of outbound provider calls.
type RateLimiter struct {
	rpm int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter constructs a limiter allowing rpm requests per minute
// per client key. rpm <= 0 disables rate limiting entirely.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{rpm: rpm, limiters: make(map[string]*rate.Limiter)}
}

// Enabled reports whether this limiter actually restricts anything.
func (l *RateLimiter) Enabled() bool { return l.rpm > 0 }

// Allow reports whether the caller identified by key may proceed,
// consuming one token from its bucket if so.
func (l *RateLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		perSecond := float64(l.rpm) / 60
		lim = rate.NewLimiter(rate.Limit(perSecond), l.rpm)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
