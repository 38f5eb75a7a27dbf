// Package ratelimit implements rate limiting backed by Redis, falling back
// to process-local memory when Redis is disabled.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/thoughtswap/thoughtswap/internal/v1/config"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the limiter instances for each protected surface.
type RateLimiter struct {
	auth      *limiter.Limiter // login endpoints, keyed by IP
	apiGlobal *limiter.Limiter // REST surface, keyed by IP
	wsIP      *limiter.Limiter // WebSocket connects, keyed by IP
	wsUser    *limiter.Limiter // WebSocket connects, keyed by user id
	store     limiter.Store
}

// New builds a RateLimiter from the configured rates. A nil redisClient
// selects the in-memory store.
func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	authRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAuth)
	if err != nil {
		return nil, fmt.Errorf("invalid auth rate: %w", err)
	}

	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
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
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		auth:      limiter.New(store, authRate),
		apiGlobal: limiter.New(store, apiGlobalRate),
		wsIP:      limiter.New(store, wsIPRate),
		wsUser:    limiter.New(store, wsUserRate),
		store:     store,
	}, nil
}

// AuthMiddleware limits the login endpoints per client IP.
func (rl *RateLimiter) AuthMiddleware() gin.HandlerFunc {
	return rl.ipMiddleware(rl.auth)
}

// GlobalMiddleware limits the whole REST surface per client IP.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.ipMiddleware(rl.apiGlobal)
}

func (rl *RateLimiter) ipMiddleware(instance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := instance.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: losing the limiter store must not take down logins.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket enforces the per-IP connect limit. It returns false after
// writing the rejection response.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ipContext, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true // fail open
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketUser enforces the per-user connect limit. Call it after the
// token has identified the user.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	userContext, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return nil // fail open
	}

	if userContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}

	return nil
}
