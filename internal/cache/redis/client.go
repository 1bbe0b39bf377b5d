package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gutlog/backend/pkg/circuitbreaker"
	"github.com/gutlog/backend/pkg/logger"
	"github.com/gutlog/backend/pkg/retry"
)

const viewPrefix = "gutlog:view:"

type Client struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.Log
	err := retry.Do(ctx, retryCfg, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", client.Options().Addr))

	return newClient(client, opts.TTL), nil
}

func newClient(client *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		client: client,
		ttl:    ttl,
		breaker: circuitbreaker.NewCircuitBreaker("redis-views", circuitbreaker.Config{
			FailureThreshold: 3,
			Timeout:          30 * time.Second,
			Logger:           logger.Log,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Get loads a cached view into dst. A miss returns false with no error.
func (c *Client) Get(ctx context.Context, key string, dst any) (bool, error) {
	var data []byte
	err := c.breaker.Execute(ctx, func() error {
		var err error
		data, err = c.client.Get(ctx, viewPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to get view cache: %w", err)
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal view: %w", err)
	}

	logger.Debug("View cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	err = c.breaker.Execute(ctx, func() error {
		return c.client.Set(ctx, viewPrefix+key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set view cache: %w", err)
	}

	logger.Debug("View cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

// Invalidate drops every cached view. Called after each insert.
func (c *Client) Invalidate(ctx context.Context) error {
	err := c.breaker.Execute(ctx, func() error {
		iter := c.client.Scan(ctx, 0, viewPrefix+"*", 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate views: %w", err)
	}

	logger.Debug("View cache invalidated")
	return nil
}
