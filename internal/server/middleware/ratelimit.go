package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krill0051-hash/tradingview-proxy/internal/config"
)

// tokenBucket is a per-client token bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	refillRate int
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if added := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate; added > 0 {
		tb.tokens += added
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimiter tracks one token bucket per client IP.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  config.RateLimitConfig
}

// NewRateLimiter creates a limiter and starts its idle-bucket cleanup loop.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
	}
	if cfg.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

// Allow reports whether clientID may proceed.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.RLock()
	bucket, exists := rl.buckets[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		bucket, exists = rl.buckets[clientID]
		if !exists {
			bucket = newTokenBucket(rl.config.BurstSize, rl.config.RequestsPerSecond)
			rl.buckets[clientID] = bucket
		}
		rl.mu.Unlock()
	}

	return bucket.take()
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)
		rl.mu.Lock()
		for clientID, bucket := range rl.buckets {
			bucket.mu.Lock()
			stale := bucket.lastRefill.Before(cutoff)
			bucket.mu.Unlock()
			if stale {
				delete(rl.buckets, clientID)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects clients that exhaust their token bucket.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := NewRateLimiter(cfg)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests from this IP address",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
