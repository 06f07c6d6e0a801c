// Package redis wraps the go-redis client used as the engine's durable
// object store backend.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"clinical-copilot/backend/pkg/config"
)

// Client wraps the underlying redis client
type Client struct {
	*redis.Client
}

// NewClient connects to redis using the explicit configuration object
func NewClient(cfg *config.Config) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	return &Client{Client: client}
}

// Healthy reports whether the store answers a ping
func (c *Client) Healthy(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
