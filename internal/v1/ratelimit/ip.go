package ratelimit

import (
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter hands out a token bucket per remote IP, backed by a TTL
// cache so buckets for idle addresses expire. Used to throttle TCP LOGIN
// attempts.
type IPRateLimiter struct {
	buckets *cache.Cache
	rate    rate.Limit
	burst   int
}

// NewIPRateLimiter creates a limiter allowing r events per second with the
// given burst per IP. Buckets idle for ttl are evicted.
func NewIPRateLimiter(r rate.Limit, burst int, ttl time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		buckets: cache.New(ttl, 2*ttl),
		rate:    r,
		burst:   burst,
	}
}

// Allow reports whether the IP may perform another attempt now.
func (l *IPRateLimiter) Allow(ip string) bool {
	if v, ok := l.buckets.Get(ip); ok {
		l.buckets.SetDefault(ip, v) // refresh TTL
		return v.(*rate.Limiter).Allow()
	}
	bucket := rate.NewLimiter(l.rate, l.burst)
	l.buckets.SetDefault(ip, bucket)
	return bucket.Allow()
}
