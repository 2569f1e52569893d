package domain

import (
	"context"
	"time"
)

// BookCache keeps the latest order book snapshot per instrument so a new
// widget can render before the first live tick.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, key InstrumentKey) (OrderBookSnapshot, error)
}

// PriceCache provides fast access to the last trade price.
type PriceCache interface {
	SetLastPrice(ctx context.Context, lp LastPrice) error
	GetLastPrice(ctx context.Context, key InstrumentKey) (LastPrice, error)
}

// InstrumentCache caches instrument reference data.
type InstrumentCache interface {
	Set(ctx context.Context, inst Instrument) error
	Get(ctx context.Context, key InstrumentKey) (Instrument, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides ephemeral pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
