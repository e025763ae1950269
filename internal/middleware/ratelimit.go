package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/pkg/response"
)

// Limits applied to the public forms.
var (
	BookingLimit  = Limit{Action: "booking", Max: 3, Window: 5 * time.Minute}
	ContactLimit  = Limit{Action: "contact", Max: 3, Window: 5 * time.Minute}
	CheckoutLimit = Limit{Action: "checkout", Max: 5, Window: 10 * time.Minute}
)

// Limit allows Max requests per Window for one action and client address.
type Limit struct {
	Action string
	Max    int64
	Window time.Duration
}

// Counter increments a windowed counter and returns the new count.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter: INCR, with EXPIRE set on the first hit.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// RateLimiter rejects requests over their Limit with 429.
type RateLimiter struct {
	counter Counter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRateLimiter creates a rate limiter. m may be nil.
func NewRateLimiter(counter Counter, m *metrics.Metrics, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{counter: counter, metrics: m, logger: logger}
}

// Middleware enforces l per client address. Counter errors let the request through.
func (rl *RateLimiter) Middleware(l Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", l.Action, c.ClientIP())
		n, err := rl.counter.Incr(c.Request.Context(), key, l.Window)
		if err != nil {
			rl.logger.Warn("rate limit counter unavailable", zap.String("action", l.Action), zap.Error(err))
			c.Next()
			return
		}
		if n > l.Max {
			if rl.metrics != nil {
				rl.metrics.RateLimited.WithLabelValues(l.Action).Inc()
			}
			rl.logger.Info("rate limited", zap.String("action", l.Action), zap.String("client_ip", c.ClientIP()), zap.Int64("count", n))
			c.Header("Retry-After", strconv.Itoa(int(l.Window.Seconds())))
			response.TooManyRequests(c, "too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
