package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// SettingsStore implements domain.SettingsStore. Widget settings are kept
// as a JSONB document per guid with the instrument columns broken out for
// lookup; terminal settings are a single row.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// GetWidget returns domain.ErrNotFound for an unknown guid.
func (s *SettingsStore) GetWidget(ctx context.Context, guid string) (domain.WidgetSettings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT settings_json FROM widget_settings WHERE guid = $1`, guid).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WidgetSettings{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WidgetSettings{}, fmt.Errorf("postgres: get widget %s: %w", guid, err)
	}
	return decodeWidget(guid, data)
}

// ListWidgets returns every stored widget ordered by guid.
func (s *SettingsStore) ListWidgets(ctx context.Context) ([]domain.WidgetSettings, error) {
	rows, err := s.pool.Query(ctx, `SELECT guid, settings_json FROM widget_settings ORDER BY guid`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list widgets: %w", err)
	}
	defer rows.Close()

	var out []domain.WidgetSettings
	for rows.Next() {
		var guid string
		var data []byte
		if err := rows.Scan(&guid, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan widget: %w", err)
		}
		ws, err := decodeWidget(guid, data)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: widget rows: %w", err)
	}
	return out, nil
}

// SaveWidget upserts ws by guid.
func (s *SettingsStore) SaveWidget(ctx context.Context, ws domain.WidgetSettings) error {
	if ws.GUID == "" {
		return fmt.Errorf("postgres: save widget: %w: empty guid", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("postgres: marshal widget %s: %w", ws.GUID, err)
	}
	const query = `
		INSERT INTO widget_settings (guid, symbol, exchange, portfolio, settings_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (guid) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			exchange = EXCLUDED.exchange,
			portfolio = EXCLUDED.portfolio,
			settings_json = EXCLUDED.settings_json,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, ws.GUID, ws.Symbol, ws.Exchange, ws.Portfolio, data); err != nil {
		return fmt.Errorf("postgres: save widget %s: %w", ws.GUID, err)
	}
	return nil
}

// DeleteWidget returns domain.ErrNotFound when nothing was deleted.
func (s *SettingsStore) DeleteWidget(ctx context.Context, guid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM widget_settings WHERE guid = $1`, guid)
	if err != nil {
		return fmt.Errorf("postgres: delete widget %s: %w", guid, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetTerminal returns domain.ErrNotFound until terminal settings are saved.
func (s *SettingsStore) GetTerminal(ctx context.Context) (domain.TerminalSettings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT settings_json FROM terminal_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TerminalSettings{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TerminalSettings{}, fmt.Errorf("postgres: get terminal settings: %w", err)
	}
	var ts domain.TerminalSettings
	if err := json.Unmarshal(data, &ts); err != nil {
		return domain.TerminalSettings{}, fmt.Errorf("postgres: unmarshal terminal settings: %w", err)
	}
	return ts, nil
}

func (s *SettingsStore) SaveTerminal(ctx context.Context, ts domain.TerminalSettings) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("postgres: marshal terminal settings: %w", err)
	}
	const query = `
		INSERT INTO terminal_settings (id, settings_json, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET settings_json = EXCLUDED.settings_json, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("postgres: save terminal settings: %w", err)
	}
	return nil
}

// decodeWidget trusts the row's guid over the one inside the document.
func decodeWidget(guid string, data []byte) (domain.WidgetSettings, error) {
	var ws domain.WidgetSettings
	if err := json.Unmarshal(data, &ws); err != nil {
		return domain.WidgetSettings{}, fmt.Errorf("postgres: unmarshal widget %s: %w", guid, err)
	}
	ws.GUID = guid
	return ws, nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
