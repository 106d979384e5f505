package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests per fixed window in Redis so the
// limit holds across instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(client *redis.Client, cfg *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "gatekeeper:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  client,
		config: cfg,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow increments the window counter of key. The window starts with the
// first request and lasts WindowDuration.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}

	reset := ttl.Val()
	if reset < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to start rate limit window: %w", err)
		}
		reset = rl.config.WindowDuration
	}

	limit := rl.config.RequestsPerWindow + rl.config.BurstSize
	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     rl.config.RequestsPerWindow,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Reset clears the window of key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
