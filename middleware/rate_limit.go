package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. Buckets of clients that
// stayed away for idleTTL are dropped.
type RateLimiter struct {
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

// NewRateLimiter allows perSecond requests per IP with the given burst
func NewRateLimiter(perSecond float64, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: gocache.New(idleTTL, 2*idleTTL),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  idleTTL,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	if v, ok := rl.limiters.Get(ip); ok {
		l := v.(*rate.Limiter)
		rl.limiters.Set(ip, l, rl.idleTTL)
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	// Add fails when another request created the bucket first
	if err := rl.limiters.Add(ip, l, rl.idleTTL); err != nil {
		if v, ok := rl.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// Allow reports whether ip may make a request now
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).Allow()
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := rl.limiter(c.ClientIP())
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%g", float64(rl.limit)))
		if !l.Allow() {
			retry := int(math.Ceil(1 / math.Max(float64(rl.limit), 1e-9)))
			c.Header("Retry-After", fmt.Sprintf("%d", retry))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Too many requests, slow down",
				"retry_after": retry,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
