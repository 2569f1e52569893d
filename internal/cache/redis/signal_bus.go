package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const subscriberBuffer = 128

// SignalBus implements domain.SignalBus on Redis Pub/Sub. It carries
// rendered views, order events and hotkey commands between nodes; delivery
// is best effort.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "signal_bus")),
	}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob
// patterns such as "ladder:view:*" use PSUBSCRIBE. The returned channel is
// closed when ctx is cancelled. A slow reader drops messages rather than
// stalling the connection.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					sb.logger.Warn("subscriber lagging, message dropped",
						slog.String("channel", msg.Channel),
					)
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
