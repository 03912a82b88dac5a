// Package middleware carries the HTTP ingress middleware for the SSE
// transport. Rate limiting is two-tier: a token bucket per client key with a
// wider shared bucket on top.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

const (
	// globalFactor scales the per-client budget up to the shared bucket.
	globalFactor = 10

	cleanupInterval = 5 * time.Minute
	maxIdle         = time.Hour
)

// KeyFunc derives the rate-limit bucket key for a request.
type KeyFunc func(*gin.Context) string

// RateLimitConfig tunes the per-client bucket. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   int
	Burst int
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter enforces the two-tier budget. Idle client buckets are dropped
// by a background sweep; Close stops it.
type RateLimiter struct {
	cfg    RateLimitConfig
	keyFor KeyFunc
	global *rate.Limiter

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	logger  observability.Logger
	metrics *metrics.Metrics

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimiter builds a limiter. keyFor may be nil, in which case the
// client IP keys the bucket.
func NewRateLimiter(cfg RateLimitConfig, keyFor KeyFunc, logger observability.Logger, m *metrics.Metrics) *RateLimiter {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if keyFor == nil {
		keyFor = func(c *gin.Context) string { return c.ClientIP() }
	}
	rl := &RateLimiter{
		cfg:      cfg,
		keyFor:   keyFor,
		limiters: make(map[string]*clientLimiter),
		logger:   logger.WithPrefix("ratelimit"),
		metrics:  m,
		stop:     make(chan struct{}),
	}
	if cfg.RPS > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.RPS*globalFactor), cfg.Burst*globalFactor)
		rl.wg.Add(1)
		go rl.cleanupLoop()
	}
	return rl
}

// Handler returns the gin middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.global == nil {
			c.Next()
			return
		}
		if !rl.global.Allow() || !rl.limiterFor(rl.keyFor(c)).Allow() {
			rl.reject(c)
			return
		}
		c.Next()
	}
}

// Close stops the idle-bucket sweep. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
	rl.wg.Wait()
}

func (rl *RateLimiter) reject(c *gin.Context) {
	rl.metrics.RecordRateLimitRejection()
	rl.logger.Warn("Rate limit exceeded", map[string]interface{}{
		"path":   c.Request.URL.Path,
		"remote": c.ClientIP(),
	})
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":   "Too Many Requests",
		"message": "Rate limit exceeded, retry shortly",
	})
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for key, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.logger.Debug("Rate limiter sweep completed", map[string]interface{}{
		"remaining_buckets": len(rl.limiters),
	})
}
