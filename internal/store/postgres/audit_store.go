package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// AuditStore implements domain.AuditStore. Every order action taken from a
// ladder lands here; the archiver later moves old rows to S3.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := buildAuditListQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return scanAudit(rows)
}

// ListBefore returns up to limit entries older than before, oldest first, so
// an archiver can page forward by id.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, event, detail, created_at FROM audit_log
		WHERE created_at < $1
		ORDER BY id ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanAudit(rows)
}

// DeleteUpTo removes every entry with id <= maxID.
func (s *AuditStore) DeleteUpTo(ctx context.Context, maxID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE id <= $1`, maxID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit up to %d: %w", maxID, err)
	}
	return tag.RowsAffected(), nil
}

func buildAuditListQuery(opts domain.ListOpts) (string, []any) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND created_at >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND created_at <= " + next(*opts.Until)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}

func scanAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
