package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/pkg/errors"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimiter keeps one token bucket per caller key. Buckets idle longer than
// the configured TTL are dropped by Sweep.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket

	now func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateDecision is the outcome of a single Allow call.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	l := &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	l.apply(cfg)
	return l
}

func (l *RateLimiter) apply(cfg config.RateLimitConfig) {
	l.limit = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.Burst
	if l.limit > 0 && l.burst < 1 {
		l.burst = 1
	}
	l.idleTTL = cfg.IdleTTL
	if l.idleTTL <= 0 {
		l.idleTTL = 10 * time.Minute
	}
}

// Enabled reports whether a positive rate is configured.
func (l *RateLimiter) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit > 0
}

// Update swaps the rate and burst of every live bucket.
func (l *RateLimiter) Update(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(cfg)
	now := l.now()
	for _, b := range l.buckets {
		b.limiter.SetLimitAt(now, l.limit)
		b.limiter.SetBurstAt(now, l.burst)
	}
}

// Allow takes one token from key's bucket. A denied request consumes nothing.
func (l *RateLimiter) Allow(key string) RateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return RateDecision{Allowed: true}
	}

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	d := RateDecision{Limit: l.burst}
	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		d.RetryAfter = delay
	} else {
		d.Allowed = true
	}
	if tokens := b.limiter.TokensAt(now); tokens > 0 {
		d.Remaining = int(math.Floor(tokens))
	}
	return d
}

// Sweep drops buckets idle for longer than the TTL and returns how many went.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Run sweeps idle buckets every half TTL until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	l.mu.Lock()
	interval := l.idleTTL / 2
	l.mu.Unlock()

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

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit throttles per authenticated user, falling back to the client IP
// for anonymous callers. It must run after Auth. A nil limiter is a no-op.
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Enabled() {
			c.Next()
			return
		}

		d := l.Allow(rateLimitKey(c))
		c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(secs))
			resp := common.NewErrorResponse(string(errors.ErrCodeTooManyRequests),
				errors.DefaultMessageForCode(errors.ErrCodeTooManyRequests))
			resp.RequestID = RequestIDFrom(c)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if user := UserIDFrom(c); user != "" && user != AnonymousUser {
		return "user:" + user
	}
	return "ip:" + c.ClientIP()
}
