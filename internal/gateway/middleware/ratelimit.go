package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dmsrelay/internal/gateway/handlers"
)

// RateLimiterConfig configures per-client limits.
type RateLimiterConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// Clients idle for two intervals are forgotten.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig suits a UI polling every few seconds plus
// webhook bursts from the platform.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 600,
		Burst:             60,
		CleanupInterval:   5 * time.Minute,
	}
}

func (c RateLimiterConfig) withDefaults() RateLimiterConfig {
	def := DefaultRateLimiterConfig()
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = def.RequestsPerMinute
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one rate.Limiter per client IP.
type RateLimiter struct {
	config RateLimiterConfig
	limit  rate.Limit

	mu      sync.Mutex
	clients map[string]*clientLimiter

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter. Zero fields take the defaults; the
// eviction loop only runs when enabled.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	config = config.withDefaults()
	rl := &RateLimiter{
		config:  config,
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60),
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.Enabled {
		go rl.evictLoop()
	}
	return rl
}

// Stop ends the eviction loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > 2*rl.config.CleanupInterval {
			delete(rl.clients, ip)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow takes one token for ip. It returns whether the request may proceed,
// the whole tokens left, and when the bucket is full again.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Time) {
	now := rl.now()
	if !rl.config.Enabled {
		return true, rl.config.RequestsPerMinute, now.Add(time.Minute)
	}

	lim := rl.limiterFor(ip, now)
	ok := lim.AllowN(now, 1)

	tokens := math.Max(lim.TokensAt(now), 0)
	refill := time.Duration((float64(rl.config.Burst) - tokens) / float64(rl.limit) * float64(time.Second))
	return ok, int(tokens), now.Add(refill)
}

// RateLimit rejects clients over their limit with 429 and a Retry-After.
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ok, remaining, reset := rl.Allow(getClientIP(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !ok {
			wait := time.Duration(float64(time.Second) / float64(rl.limit))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
