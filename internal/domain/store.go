package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only log of order actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteUpTo(ctx context.Context, maxID int64) (int64, error)
}

// SettingsStore persists widget and terminal settings.
type SettingsStore interface {
	GetWidget(ctx context.Context, guid string) (WidgetSettings, error)
	ListWidgets(ctx context.Context) ([]WidgetSettings, error)
	SaveWidget(ctx context.Context, s WidgetSettings) error
	DeleteWidget(ctx context.Context, guid string) error
	GetTerminal(ctx context.Context) (TerminalSettings, error)
	SaveTerminal(ctx context.Context, s TerminalSettings) error
}
