package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// BookCache implements domain.BookCache. Each instrument's latest
// depth-limited snapshot is stored as one JSON value so readers on other
// nodes see a consistent book.
//
// Key schema:
//
//	{prefix}book:{EXCHANGE:SYMBOL[:GROUP]}  - JSON OrderBookSnapshot, TTL
type BookCache struct {
	c   *Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. A non-positive ttl stores without expiry.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{c: c, ttl: ttl}
}

func (bc *BookCache) bookKey(key domain.InstrumentKey) string {
	return bc.c.key("book", key.String())
}

// SetSnapshot replaces the cached snapshot for snap.Key.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.Key, err)
	}
	if err := bc.c.rdb.Set(ctx, bc.bookKey(snap.Key), data, ttlOrZero(bc.ttl)).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Key, err)
	}
	return nil
}

// GetSnapshot returns domain.ErrNotFound when nothing is cached.
func (bc *BookCache) GetSnapshot(ctx context.Context, key domain.InstrumentKey) (domain.OrderBookSnapshot, error) {
	data, err := bc.c.rdb.Get(ctx, bc.bookKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", key, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", key, err)
	}
	return snap, nil
}

func ttlOrZero(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

var _ domain.BookCache = (*BookCache)(nil)
