package ratelimit

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/pkg/log"
	"github.com/Archan-07/my-chat-app/pkg/response"
)

// Limiter is a fixed-window request limiter backed by Redis, shared by all
// server processes. When Redis is unavailable it fails open: the API stays
// up without limiting rather than rejecting everyone.
type Limiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

// New creates a limiter on an existing Redis client.
func New(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client:   client,
		requests: cfg.Requests,
		window:   cfg.Window,
	}
}

// Middleware returns a gin middleware enforcing the limit per client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s", c.ClientIP())
		ctx := c.Request.Context()

		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("rate limiter unavailable, failing open")
			c.Next()
			return
		}
		if count == 1 {
			l.client.Expire(ctx, key, l.window)
		}

		if count > int64(l.requests) {
			response.TooManyRequests(c, "too many requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}
