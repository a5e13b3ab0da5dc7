package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/config"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Limiters is a per-client-IP token bucket table. Idle buckets are dropped
// lazily while requests come in.
type Limiters struct {
	r     rate.Limit
	b     int
	table *xsync.MapOf[string, *ipLimiter]
	now   func() time.Time

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewLimiters creates a table of limiters allowing r requests per second with burst b.
func NewLimiters(r rate.Limit, b int) *Limiters {
	return &Limiters{
		r:         r,
		b:         b,
		table:     xsync.NewMapOf[string, *ipLimiter](),
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// Allow reports whether ip may make a request now.
func (l *Limiters) Allow(ip string) bool {
	now := l.now()
	il, _ := l.table.LoadOrCompute(ip, func() *ipLimiter {
		return &ipLimiter{limiter: rate.NewLimiter(l.r, l.b)}
	})
	il.lastSeen.Store(now.UnixNano())
	l.maybeSweep(now)
	return il.limiter.AllowN(now, 1)
}

// Len reports how many clients are tracked.
func (l *Limiters) Len() int { return l.table.Size() }

func (l *Limiters) maybeSweep(now time.Time) {
	if !l.sweepMu.TryLock() {
		return
	}
	defer l.sweepMu.Unlock()
	if now.Sub(l.lastSweep) < limiterSweep {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-limiterIdle).UnixNano()
	l.table.Range(func(ip string, il *ipLimiter) bool {
		if il.lastSeen.Load() < cutoff {
			l.table.Delete(ip)
		}
		return true
	})
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return rateLimit(NewLimiters(r, b))
}

// RateLimitFromConfig builds RateLimit from the security section. A
// non-positive rate disables limiting.
func RateLimitFromConfig(cfg config.SecurityConfig) gin.HandlerFunc {
	if cfg.RateLimitRPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return RateLimit(rate.Limit(cfg.RateLimitRPS), burst)
}

func rateLimit(l *Limiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":    "rate limit exceeded",
				"trace_id": GetTraceID(c),
			})
			return
		}
		c.Next()
	}
}
