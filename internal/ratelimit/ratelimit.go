// Package ratelimit is a token-bucket limiter for the auth and transfer
// endpoints.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/auth"
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerMinute is the sustained rate per key. Zero disables limiting.
	RequestsPerMinute int
	// Burst is the bucket size.
	Burst int
	// IdleTTL drops buckets untouched for this long.
	IdleTTL time.Duration
}

// DefaultConfig returns 60 requests per minute with bursts of 10.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, Burst: 10, IdleTTL: 5 * time.Minute}
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter holds one bucket per key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a limiter and starts its idle-bucket sweeper.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.cfg.IdleTTL)
			for k, b := range l.buckets {
				if b.seen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow takes a token for key. When none is available it reports false and
// how long until one will be.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.cfg.RequestsPerMinute <= 0 {
		return true, 0
	}
	rate := float64(l.cfg.RequestsPerMinute) / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.cfg.Burst), b.tokens+now.Sub(b.seen).Seconds()*rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware limits requests per scope. Authenticated requests are keyed by
// account, anonymous ones by client IP.
func (l *Limiter) Middleware(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + "|ip:" + c.ClientIP()
		if id := auth.AccountID(c); id != "" {
			key = scope + "|acct:" + id
		}

		ok, wait := l.Allow(key)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limit_exceeded",
				"message":    "Too many requests. Please slow down.",
				"retryAfter": secs,
			})
			return
		}
		c.Next()
	}
}
