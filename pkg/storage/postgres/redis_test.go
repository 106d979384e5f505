package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/config"
)

func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.CacheConfig{
		RedisURL:      "redis://" + mr.Addr(),
		RedisPoolSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, _ := setupRedisClientTest(t)
		assert.NotNil(t, client.GetClient())
		assert.Equal(t, 4, client.GetClient().Options().PoolSize)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), config.CacheConfig{RedisURL: "http://nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisClient(context.Background(), config.CacheConfig{RedisURL: "redis://" + addr})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to redis")
	})

	t.Run("password override", func(t *testing.T) {
		mr := miniredis.RunT(t)
		mr.RequireAuth("s3cret")

		client, err := NewRedisClient(context.Background(), config.CacheConfig{
			RedisURL:      "redis://" + mr.Addr(),
			RedisPassword: "s3cret",
		})
		require.NoError(t, err)
		defer client.Close()
	})
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.CacheConfig{
		RedisURL:      "redis://cache:6379/1",
		RedisDB:       3,
		RedisPoolSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 500*time.Millisecond, opts.ReadTimeout)

	opts, err = redisOptions(config.CacheConfig{RedisURL: "redis://cache:6379/1"})
	require.NoError(t, err)
	assert.Equal(t, 1, opts.DB)
}

func TestRedisClient_StartStatsRoutine(t *testing.T) {
	client, _ := setupRedisClientTest(t)
	require.NoError(t, client.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *redis.PoolStats, 1)
	client.StartStatsRoutine(ctx, 10*time.Millisecond, func(s *redis.PoolStats) {
		select {
		case reports <- s:
		default:
		}
	})

	select {
	case s := <-reports:
		assert.GreaterOrEqual(t, s.TotalConns, uint32(1))
	case <-time.After(time.Second):
		t.Fatal("no stats reported")
	}
}

func TestRedisClient_PingAndStats(t *testing.T) {
	client, mr := setupRedisClientTest(t)

	require.NoError(t, client.Ping(context.Background()))
	assert.NotNil(t, client.GetPoolStats())

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}
