// Package notify delivers operator alerts (order failures, empty-position
// close attempts, feed disconnects) to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event names raised outside the order service.
const (
	EventFeedDisconnected = "feed_disconnected"
	EventArchiveFailed    = "archive_failed"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender whose event filter lets
// it through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers to all senders when event passes the filter. A failing
// sender does not stop delivery to the rest.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		if n != nil {
			n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		}
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
