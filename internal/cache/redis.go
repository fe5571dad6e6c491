package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/backstage/waterweb/config"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned by Get when the key is absent
var ErrCacheMiss = redis.Nil

// RedisClient is an interface for Redis operations
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// redisClient implements the RedisClient interface
type redisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client. When caching is disabled a
// client that always misses is returned so callers need no nil checks.
func NewRedisClient(cfg config.RedisConfig) (RedisClient, error) {
	if !cfg.Enabled {
		return NoopClient{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisClient{client: client}, nil
}

// Get retrieves a value from Redis
func (r *redisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// Set stores a value in Redis with expiration
func (r *redisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Delete removes a key from Redis
func (r *redisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *redisClient) Close() error {
	return r.client.Close()
}

// NoopClient is used when Redis is disabled
type NoopClient struct{}

func (NoopClient) Get(ctx context.Context, key string) (string, error) { return "", ErrCacheMiss }
func (NoopClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return nil
}
func (NoopClient) Delete(ctx context.Context, key string) error { return nil }
func (NoopClient) Close() error                                 { return nil }

// IsMiss reports whether err means the key was not cached
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
