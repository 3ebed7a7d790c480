package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity a request is limited under.
type keyFunc func(*gin.Context) string

// KeyByPrincipalOrIP keys on the principal stored by Principal and falls back
// to the client IP. Keys are namespaced so the two never collide.
func KeyByPrincipalOrIP() keyFunc {
	return func(c *gin.Context) string {
		if pid := PrincipalFrom(c); pid != "" {
			return "principal:" + pid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type tier struct {
	rps   rate.Limit
	burst int
}

// RateLimiter is a process-local, per-key token bucket limiter. Routes can be
// given their own, usually stricter, tier with WithRoute; their buckets are
// kept apart from the default ones. Idle buckets are swept every sweepEvery.
//
// It guards the edge against floods. Business limits such as the OTP issuance
// window are enforced by the services against the database.
type RateLimiter struct {
	def   tier
	route map[string]tier
	keyFn keyFunc
	now   func() time.Time

	mu         sync.Mutex
	buckets    map[string]*bucket
	idleTTL    time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewRateLimiter builds a limiter with rps tokens per second and the given
// burst for every route without its own tier. burst <= 0 means 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		def:        tier{rps: rate.Limit(rps), burst: burst},
		route:      map[string]tier{},
		keyFn:      keyFn,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
		idleTTL:    10 * time.Minute,
		sweepEvery: time.Minute,
	}
}

// WithRoute sets a dedicated tier for a registered route template, e.g.
// "/api/v1/otp/challenges/:id/verify".
func (rl *RateLimiter) WithRoute(route string, rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl.route[route] = tier{rps: rate.Limit(rps), burst: burst}
	return rl
}

func (rl *RateLimiter) limiterFor(c *gin.Context) *rate.Limiter {
	key := rl.keyFn(c)
	t := rl.def
	if rt, ok := rl.route[c.FullPath()]; ok {
		t = rt
		key = c.FullPath() + "|" + key
	}

	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.rps, t.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which is served without spending tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. A rejected request gets 429 with Retry-After
// set to the wait until the next token, in whole seconds.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.limiterFor(c)
		now := rl.now()
		res := lim.ReserveN(now, 1)
		if !res.OK() {
			rl.reject(c, time.Second)
			return
		}
		if wait := res.DelayFrom(now); wait > 0 {
			res.CancelAt(now)
			rl.reject(c, wait)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id":          c.Writer.Header().Get(requestIDHeader),
		"code":                "too_many_requests",
		"message":             "rate limit exceeded",
		"retry_after_seconds": secs,
	})
}
