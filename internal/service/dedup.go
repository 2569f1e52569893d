package service

import (
	"sync"
	"time"
)

// sweepSize is the number of remembered actions above which IsDuplicate
// prunes expired entries.
const sweepSize = 256

// Dedup drops an order action that repeats an identical one seen within the
// TTL, e.g. a double click or a held hotkey. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fingerprint -> last seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup. A non-positive ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was seen within the TTL. Otherwise it
// records key and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	if d == nil || d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > sweepSize {
		d.sweep(now)
	}
	return false
}

// Forget removes key so a failed action can be retried immediately.
func (d *Dedup) Forget(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweep(d.now())
}

func (d *Dedup) sweep(now time.Time) {
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
