package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SimpleTokenBucket is an in-memory per-client rate limiter. State is local
// to the process; a multi-instance deployment needs a shared store instead.
type SimpleTokenBucket struct {
	capacity float64
	perSec   float64
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewSimpleTokenBucket creates a limiter holding capacity tokens refilled at
// perMinute per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware enforces the limit per client IP. Throttled responses carry a
// Retry-After hint.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Allow consumes one token for key, refilling continuously since the last
// call.
func (l *SimpleTokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	b.tokens += now.Sub(b.last).Seconds() * l.perSec
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *SimpleTokenBucket) retryAfterSeconds() int {
	if l.perSec <= 0 {
		return 60
	}
	s := int(1 / l.perSec)
	if s < 1 {
		s = 1
	}
	return s
}
