// Package ratelimit throttles HTTP and TCP clients, backed by Redis or
// local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/config"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

// Limiter enforces the two HTTP rate limits: a broad per-client limit over
// the whole API and a much tighter one for the credential endpoints.
type Limiter struct {
	global      *limiter.Limiter
	auth        *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// New builds a Limiter from the configured rate strings ("1000-M" style).
// When redisClient is non-nil the counters live in Redis so limits hold
// across replicas; otherwise they are process-local.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid global rate %q: %w", cfg.RateLimitGlobal, err)
	}
	authRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAuth)
	if err != nil {
		return nil, fmt.Errorf("invalid auth rate %q: %w", cfg.RateLimitAuth, err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "rate limiter using memory store")
	}

	return &Limiter{
		global:      limiter.New(store, globalRate),
		auth:        limiter.New(store, authRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// Global returns middleware applying the broad API limit, keyed by client
// IP. It runs before authentication, so there is no identity to key on.
func (l *Limiter) Global() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.check(c, l.global, c.ClientIP(), "ip")
	}
}

// Auth returns middleware for the register/login endpoints. Always keyed by
// IP because there is no identity to key on before credentials are checked.
func (l *Limiter) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.check(c, l.auth, "auth:"+c.ClientIP(), "auth")
	}
}

func (l *Limiter) check(c *gin.Context, inst *limiter.Limiter, key, limitType string) {
	ctx := c.Request.Context()
	lctx, err := inst.Get(ctx, key)
	if err != nil {
		// Fail open: a broken store should not take the API down.
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
		retryAfter := lctx.Reset - time.Now().Unix()
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many requests",
			"retry_after": lctx.Reset,
		})
		return
	}

	metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
	c.Next()
}
