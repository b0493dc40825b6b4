// internal/infrastructure/database/redis/connection.go
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/your-org/marketplace-billing/internal/config"
)

const (
	rateLimitPrefix = "rate_limit:"
	healthTimeout   = 3 * time.Second
)

// Client holds the shared counters every API instance sees
type Client struct {
	rdb *redis.Client
}

// NewClient wraps an existing go-redis client
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// NewConnection dials Redis from config and verifies it answers
func NewConnection(cfg *config.Config) (*Client, error) {
	c := NewClient(redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
	}))

	if err := c.Health(context.Background()); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.GetRedisAddr(), err)
	}

	log.Println("✅ Redis rate-limit store connected")
	return c, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings Redis, bounded by ctx and a short ceiling
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Hit counts one request for subject in a fixed window. It returns the count
// so far and the time until the window resets. The first hit opens the window.
func (c *Client) Hit(ctx context.Context, subject string, window time.Duration) (int64, time.Duration, error) {
	key := rateLimitPrefix + subject

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", key, err)
	}

	left := ttl.Val()
	if left <= 0 {
		left = window
	}
	return incr.Val(), left, nil
}
