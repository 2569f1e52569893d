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

const defaultInstrumentTTL = 12 * time.Hour

// InstrumentCache implements domain.InstrumentCache. Reference data is stored
// as JSON under "{prefix}instrument:{key}".
type InstrumentCache struct {
	c   *Client
	ttl time.Duration
}

// NewInstrumentCache creates an InstrumentCache. A zero ttl uses 12h.
func NewInstrumentCache(c *Client, ttl time.Duration) *InstrumentCache {
	if ttl == 0 {
		ttl = defaultInstrumentTTL
	}
	return &InstrumentCache{c: c, ttl: ttl}
}

func (ic *InstrumentCache) instrumentKey(key domain.InstrumentKey) string {
	return ic.c.key("instrument", key.String())
}

// Set stores inst.
func (ic *InstrumentCache) Set(ctx context.Context, inst domain.Instrument) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("redis: marshal instrument %s: %w", inst.InstrumentKey, err)
	}
	if err := ic.c.rdb.Set(ctx, ic.instrumentKey(inst.InstrumentKey), data, ttlOrZero(ic.ttl)).Err(); err != nil {
		return fmt.Errorf("redis: set instrument %s: %w", inst.InstrumentKey, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (ic *InstrumentCache) Get(ctx context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	data, err := ic.c.rdb.Get(ctx, ic.instrumentKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Instrument{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: get instrument %s: %w", key, err)
	}
	var inst domain.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: unmarshal instrument %s: %w", key, err)
	}
	return inst, nil
}

var _ domain.InstrumentCache = (*InstrumentCache)(nil)
