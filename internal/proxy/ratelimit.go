// Fixed-window per-provider rate limiting.
package proxy

import (
	"math"
	"sync"
	"time"

	"github.com/trailguard/agent-gateway/internal/config"
)

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter enforces a fixed-window request budget per provider.
// Providers without a configured limit are never throttled.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]config.RateLimitConfig
	windows map[string]*rateWindow
	now     func() time.Time // injectable for tests
}

// NewRateLimiter builds the limiter from the configured per-provider limits.
func NewRateLimiter(limits map[string]config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow counts one request against the provider's window. When the budget is
// exhausted it returns false and the whole seconds remaining in the window
// (minimum 1), suitable for a Retry-After header.
func (l *RateLimiter) Allow(provider string) (allowed bool, retryAfter int) {
	limit, ok := l.limits[provider]
	if !ok || limit.MaxRequests <= 0 {
		return true, 0
	}
	windowSeconds := limit.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = config.DefaultRateWindowSeconds
	}
	window := time.Duration(windowSeconds) * time.Second

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[provider]
	if !ok || now.Sub(w.start) >= window {
		w = &rateWindow{start: now}
		l.windows[provider] = w
	}

	if w.count >= limit.MaxRequests {
		remaining := window - now.Sub(w.start)
		secs := int(math.Ceil(remaining.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return false, secs
	}
	w.count++
	return true, 0
}
