package platform

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/omnisocial/omnisocial/internal/models"
)

// RateLimitConfig sizes one platform's call budget: Requests tokens per
// Window, shared across all users of that platform.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimiter enforces a per-platform budget partitioned by an arbitrary
// key (typically the operation name). Each key gets its own token bucket
// refilled at Requests/Window with burst Requests, so a burst of profile
// calls cannot starve content fetches.
//
// Allow never blocks; callers that are rejected receive the wait until the
// next free slot, which is enough to build a RateLimitInfo.
type RateLimiter struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter for one platform. Non-positive config
// values fall back to 60 requests per minute.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one slot from the budget for key. On rejection it returns
// the duration until the next slot becomes available.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	r := l.limiterFor(key).Reserve()
	if !r.OK() {
		return false, l.cfg.Window
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Info builds the RateLimitInfo for a local rejection with the given wait.
func (l *RateLimiter) Info(retryAfter time.Duration) *models.RateLimitInfo {
	return &models.RateLimitInfo{
		Limit:      l.cfg.Requests,
		Remaining:  0,
		Reset:      time.Now().Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		perSecond := float64(l.cfg.Requests) / l.cfg.Window.Seconds()
		lim = rate.NewLimiter(rate.Limit(perSecond), l.cfg.Requests)
		l.limiters[key] = lim
	}
	return lim
}
