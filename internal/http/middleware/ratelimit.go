// Package middleware – per-caller token-bucket rate limiting
//
// Two limiters share this implementation. KeyByIP buckets every request by
// client IP and runs before authentication, so made-up key ids cannot mint
// fresh buckets. KeyByPrincipal runs after RequireAPIKey and buckets by the
// verified key id; anonymous requests pass it untouched. Idle buckets are
// evicted opportunistically. The limiters are process local.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ucp_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by identity kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// KeyFunc maps a request to a bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByIP returns "ip:<addr>" for every request.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

// KeyByPrincipal returns "key:<key_id>" for an authenticated request and ""
// otherwise. Mount it after RequireAPIKey.
func KeyByPrincipal() KeyFunc {
	return func(c *gin.Context) string {
		if k := Principal(c); k != nil {
			return "key:" + k.KeyID
		}
		return ""
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per identity. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst. burst <= 0 is treated as 1.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// limiter returns the bucket for key. Every 5000 lookups idle buckets are
// evicted first, so a stale bucket is never refreshed by its own lookup.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler rejects requests over the limit with 429, a Retry-After header and
// {"request_id","code":"rate_limited","message"}. X-RateLimit-Limit carries
// the burst size on every counted response. An empty key skips the limiter.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		lim := rl.limiter(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))

		if lim.AllowN(rl.now(), 1) {
			c.Next()
			return
		}

		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.rps)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfterSeconds is the time for one token to refill, at least 1s.
func retryAfterSeconds(rps rate.Limit) int {
	if rps <= 0 {
		return 60
	}
	s := int(math.Ceil(1 / float64(rps)))
	if s < 1 {
		s = 1
	}
	return s
}
