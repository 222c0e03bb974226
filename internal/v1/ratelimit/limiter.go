// Package ratelimit guards the relay's two ingress points: new WebSocket
// connections (per client IP, ulule/limiter backed by memory or Redis) and
// inbound frames on established sessions (per clientId token buckets).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/driftlab/roomcast/internal/v1/config"
	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter enforces the connection-level limit.
type RateLimiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewRateLimiter creates a RateLimiter from the configured rate. The store is
// Redis-backed when a client is provided (so the limit spans instances),
// in-memory otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIp)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
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
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:  limiter.New(store, wsIPRate),
		store: store,
	}, nil
}

// CheckWebSocket checks whether a new WebSocket connection from this IP is
// allowed. Returns true if allowed; on denial the 429 response has already
// been written. Store failures fail open: availability over enforcement.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}
