// Package httpmiddleware holds gin middlewares shared by the API.
package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(c *gin.Context) string

// ClientIP keys buckets by client address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// TokenBucket is an in-memory per-key rate limiter.
type TokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time

	mu        sync.Mutex
	state     map[string]*bucket
	lastPrune time.Time
}

// pruneEvery is how often buckets that have refilled completely are dropped.
const pruneEvery = time.Minute

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// WithClock replaces the time source.
func (l *TokenBucket) WithClock(now func() time.Time) *TokenBucket {
	l.now = now
	return l
}

// GinMiddleware returns gin handler enforcing per-key limits. A nil key uses ClientIP.
func (l *TokenBucket) GinMiddleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		if l.rate <= 0 {
			c.Next()
			return
		}
		ok, retry := l.allow(key(c))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *TokenBucket) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	perToken := time.Minute / time.Duration(l.rate)
	if now.Sub(l.lastPrune) >= pruneEvery {
		l.prune(now, perToken)
	}
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, 0
	}
	if refill := int(now.Sub(b.last) / perToken); refill > 0 {
		b.tokens += refill
		b.last = b.last.Add(time.Duration(refill) * perToken)
		if b.tokens >= l.capacity {
			b.tokens = l.capacity
			b.last = now
		}
	}
	if b.tokens <= 0 {
		return false, perToken - now.Sub(b.last)
	}
	b.tokens--
	return true, 0
}

// prune drops idle buckets; a missing bucket starts full, so nothing changes
// for their keys. Called with l.mu held.
func (l *TokenBucket) prune(now time.Time, perToken time.Duration) {
	for key, b := range l.state {
		if b.tokens+int(now.Sub(b.last)/perToken) >= l.capacity {
			delete(l.state, key)
		}
	}
	l.lastPrune = now
}

// Len reports how many keys hold a bucket.
func (l *TokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
