package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token
// checked on release. The archiver uses it so only one node moves audit rows.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, unlockSc: redis.NewScript(unlockLua)}
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// holder owns it. The returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled on shutdown.
			unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
