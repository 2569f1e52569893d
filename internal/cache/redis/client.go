// Package redis implements the domain cache, bus, lock and rate-limit
// interfaces on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
	TLSEnabled  bool
	// KeyPrefix namespaces every key written by this process, e.g. "ladder:".
	KeyPrefix string
}

// Client wraps a go-redis Client together with the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Client and pings the server.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

func (c *Client) key(parts ...string) string {
	return joinKey(c.prefix, parts...)
}

func joinKey(prefix string, parts ...string) string {
	k := prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}
