package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Source runs one upstream subscription for key and calls emit for every
// value until ctx is cancelled or the subscription fails.
type Source[K comparable, T any] func(ctx context.Context, key K, emit func(T)) error

const (
	sourceRetryDelay    = time.Second
	maxSourceRetryDelay = 30 * time.Second
)

// Registry fans one upstream subscription per key out to any number of
// subscribers. The first subscriber starts the source, the last one to leave
// stops it. New subscribers receive the last value immediately.
type Registry[K comparable, T any] struct {
	name   string
	source Source[K, T]
	logger *slog.Logger

	mu      sync.Mutex
	entries map[K]*entry[T]
}

type entry[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[*Subscription[T]]struct{}
	last   T
	has    bool
}

// Subscription delivers values for one key. C holds at most one pending
// value; a newer value replaces one the subscriber has not read yet.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	cancel func()
	once   sync.Once
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(s.cancel)
}

func (s *Subscription[T]) deliver(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// NewRegistry creates a Registry backed by source.
func NewRegistry[K comparable, T any](name string, source Source[K, T], logger *slog.Logger) *Registry[K, T] {
	return &Registry[K, T]{
		name:    name,
		source:  source,
		logger:  logger.With(slog.String("component", "registry"), slog.String("stream", name)),
		entries: make(map[K]*entry[T]),
	}
}

// Subscribe returns a subscription for key, starting the source if this is
// the first subscriber.
func (r *Registry[K, T]) Subscribe(key K) *Subscription[T] {
	ch := make(chan T, 1)
	sub := &Subscription[T]{C: ch, ch: ch}
	sub.cancel = func() { r.unsubscribe(key, sub) }

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		e = &entry[T]{
			cancel: cancel,
			done:   make(chan struct{}),
			subs:   make(map[*Subscription[T]]struct{}),
		}
		r.entries[key] = e
		go r.run(ctx, key, e)
	}
	e.subs[sub] = struct{}{}
	if e.has {
		sub.deliver(e.last)
	}
	return sub
}

// Refs returns the number of subscribers for key.
func (r *Registry[K, T]) Refs(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return len(e.subs)
	}
	return 0
}

// Last returns the last value seen for key.
func (r *Registry[K, T]) Last(key K) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.has {
		return e.last, true
	}
	var zero T
	return zero, false
}

// Close stops every source and waits for them to exit.
func (r *Registry[K, T]) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[K]*entry[T])
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}

func (r *Registry[K, T]) unsubscribe(key K, sub *Subscription[T]) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	e.cancel()
}

func (r *Registry[K, T]) publish(e *entry[T], v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.last = v
	e.has = true
	for sub := range e.subs {
		sub.deliver(v)
	}
}

// run keeps the source alive with exponential backoff while the entry has
// subscribers.
func (r *Registry[K, T]) run(ctx context.Context, key K, e *entry[T]) {
	defer close(e.done)

	delay := sourceRetryDelay
	for {
		err := r.source(ctx, key, func(v T) { r.publish(e, v) })
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("source failed, retrying",
				slog.Any("key", key),
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxSourceRetryDelay {
			delay = maxSourceRetryDelay
		}
	}
}
