package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each instrument's last trade is stored at "{prefix}price:{key}" with fields
// "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(key domain.InstrumentKey) string {
	return pc.c.key("price", key.String())
}

// SetLastPrice stores the latest trade price for lp.Key.
func (pc *PriceCache) SetLastPrice(ctx context.Context, lp domain.LastPrice) error {
	k := pc.priceKey(lp.Key)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, encodePrice(lp))
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", lp.Key, err)
	}
	return nil
}

// GetLastPrice returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetLastPrice(ctx context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(key)).Result()
	if err != nil {
		return domain.LastPrice{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	lp, err := decodePrice(key, vals)
	if err != nil {
		return domain.LastPrice{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	return lp, nil
}

func encodePrice(lp domain.LastPrice) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(lp.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(lp.Timestamp.UnixNano(), 10),
	}
}

func decodePrice(key domain.InstrumentKey, vals map[string]string) (domain.LastPrice, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.LastPrice{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.LastPrice{}, fmt.Errorf("parse price: %w", err)
	}
	lp := domain.LastPrice{Key: key, Price: price}
	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.LastPrice{}, fmt.Errorf("parse ts: %w", err)
		}
		lp.Timestamp = time.Unix(0, ns)
	}
	return lp, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
