package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/config"
)

// RedisClient owns the shared Redis connection used by the permission cache
// and the readiness probe
type RedisClient struct {
	client *redis.Client
}

// redisOptions parses cfg.RedisURL and applies the explicit overrides. The
// read timeout stays short because every cache error falls through to the
// database.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.PoolTimeout = time.Second
	return opts, nil
}

// NewRedisClient connects to the server described by cfg and pings it
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*RedisClient, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// StartStatsRoutine reports pool statistics to report every interval until
// ctx is done
func (c *RedisClient) StartStatsRoutine(ctx context.Context, interval time.Duration, report func(*redis.PoolStats)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report(c.client.PoolStats())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
