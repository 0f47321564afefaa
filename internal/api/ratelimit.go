package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled determines if rate limiting is active.
	Enabled bool `yaml:"enabled"`
	// RequestsPerSecond is the rate limit per client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the maximum burst allowed.
	BurstSize int `yaml:"burst_size"`
	// IdleTimeout evicts clients not seen for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultRateLimitConfig returns the default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTimeout:       10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	config    RateLimitConfig
	clients   map[string]*client
	lastSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether a request from clientID may proceed.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.config.Enabled {
		return true
	}

	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.clients[clientID] = c
	}
	c.lastSeen = now
	if now.Sub(rl.lastSweep) >= rl.config.IdleTimeout {
		rl.evictLocked(now)
		rl.lastSweep = now
	}
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// evictLocked drops idle clients. It runs at most once per idle timeout.
// Must be called with mu held.
func (rl *RateLimiter) evictLocked(now time.Time) {
	if rl.config.IdleTimeout <= 0 {
		return
	}
	for id, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.config.IdleTimeout {
			delete(rl.clients, id)
		}
	}
}

// NewRateLimitMiddleware creates a rate limiting middleware.
func NewRateLimitMiddleware(h *Handler, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !limiter.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(clientID(r)) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limiter.config.RequestsPerSecond))
				h.WriteAPIError(w, ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientID identifies the caller by API key prefix, or by address once
// middleware.RealIP has run.
func clientID(r *http.Request) string {
	if key := extractAPIKey(r); len(key) >= 12 {
		return "key:" + key[:12]
	}
	return "ip:" + r.RemoteAddr
}
