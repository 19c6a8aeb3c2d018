package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"leadflow/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// WorkspaceOrIP charges requests to the workspace path parameter when present,
// falling back to the client IP.
func WorkspaceOrIP(c *gin.Context) string {
	if ws := c.Param("workspace_id"); ws != "" {
		return "ws:" + ws
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.RemoteIP()
	}
	return "ip:" + ip
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiters struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*entry
	now     func() time.Time
}

func NewLimiters(cfg RateLimitConfig) *Limiters {
	return &Limiters{
		cfg:     cfg,
		buckets: make(map[string]*entry),
		now:     time.Now,
	}
}

func (l *Limiters) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.buckets[key] = e
	}
	e.lastSeen = l.now()

	allowed := e.limiter.Allow()
	remaining := int(e.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Sweep drops buckets idle for longer than MaxAge.
func (l *Limiters) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.buckets {
		if now.Sub(e.lastSeen) > l.cfg.MaxAge {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps on CleanupInterval until ctx is done.
func (l *Limiters) RunCleanup(ctx context.Context) {
	interval := l.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiters) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = WorkspaceOrIP
	}
	limit := strconv.Itoa(int(l.cfg.RPS))

	return func(c *gin.Context) {
		allowed, remaining := l.Allow(key(c))
		c.Header("X-RateLimit-Limit", limit)

		if !allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
