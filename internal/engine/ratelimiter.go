package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeliveryLimiter caps deliveries per tenant with a Redis sliding window, so
// the cap holds across every worker replica sharing the instance.
type DeliveryLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	limit       int
	window      time.Duration
}

// Trims the window, counts what is left and records the request if the
// tenant is under the limit. Returns 1 when allowed.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    return 0
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 1000)
return 1
`)

// NewDeliveryLimiter allows up to limit deliveries per tenant per window.
// A limit of zero or less disables limiting.
func NewDeliveryLimiter(redisClient *redis.Client, limit int, window time.Duration, logger *slog.Logger) *DeliveryLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &DeliveryLimiter{
		redisClient: redisClient,
		logger:      logger,
		limit:       limit,
		window:      window,
	}
}

func limiterKey(tenantID string) string {
	return fmt.Sprintf("rl:tenant:%s", tenantID)
}

// Allow reports whether one more delivery to tenantID fits in the window.
// Redis errors fail open.
func (l *DeliveryLimiter) Allow(ctx context.Context, tenantID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	result, err := slidingWindowScript.Run(ctx, l.redisClient, []string{limiterKey(tenantID)},
		time.Now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		l.logger.Error("delivery limiter script failed", "error", err, "tenant_id", tenantID)
		return true
	}

	if result == 0 {
		l.logger.Debug("delivery rate limited", "tenant_id", tenantID, "limit", l.limit)
		return false
	}
	return true
}
