package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
	"github.com/alanyoungcy/scalperladder/internal/notify"
)

const (
	archiveLockKey   = "archive:audit"
	archiveLockTTL   = 10 * time.Minute
	defaultBatchSize = 5000
	jsonlContentType = "application/x-ndjson"

	// Batches above multipartThreshold go through the upload manager.
	multipartThreshold = 8 << 20
	multipartPartSize  = 8 << 20
)

// ObjectStat confirms an uploaded object exists.
type ObjectStat interface {
	Size(ctx context.Context, path string) (int64, bool, error)
}

// Notifier reports archive failures to the operator.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AuditArchiver implements domain.Archiver. It pages audit rows older than
// the cutoff, writes each page as one JSONL object, confirms the upload and
// only then deletes the rows. A Redis lock keeps concurrent nodes from
// archiving the same rows twice.
type AuditArchiver struct {
	audit     domain.AuditStore
	writer    domain.BlobWriter
	stat      ObjectStat
	locks     domain.LockManager
	batchSize int
	notifier  Notifier
	logger    *slog.Logger
}

func NewAuditArchiver(audit domain.AuditStore, writer domain.BlobWriter, stat ObjectStat, locks domain.LockManager, batchSize int, logger *slog.Logger) *AuditArchiver {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &AuditArchiver{
		audit:     audit,
		writer:    writer,
		stat:      stat,
		locks:     locks,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "audit_archiver")),
	}
}

// WithNotifier sets where failed runs are reported.
func (a *AuditArchiver) WithNotifier(n Notifier) *AuditArchiver {
	a.notifier = n
	return a
}

// ArchiveAudit moves every audit row created before the cutoff and returns
// how many were archived. A held lock is not an error; another node is
// doing the work.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.DebugContext(ctx, "archive lock held elsewhere")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit lock: %w", err)
	}
	defer unlock()

	var total int64
	for {
		entries, err := a.audit.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		n, err := a.archiveBatch(ctx, entries)
		total += n
		if err != nil {
			return total, err
		}
		if len(entries) < a.batchSize {
			return total, nil
		}
	}
}

func (a *AuditArchiver) archiveBatch(ctx context.Context, entries []domain.AuditEntry) (int64, error) {
	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath(entries[0].CreatedAt)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	size, found, err := a.stat.Size(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit verify: %w", err)
	}
	if !found || size != int64(len(buf)) {
		return 0, fmt.Errorf("s3blob: archive audit verify %s: stored %d bytes, wrote %d", path, size, len(buf))
	}

	maxID := entries[len(entries)-1].ID
	deleted, err := a.audit.DeleteUpTo(ctx, maxID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}

	metrics.AuditArchivedTotal.Add(float64(deleted))
	a.logger.InfoContext(ctx, "audit batch archived",
		slog.String("path", path),
		slog.Int("rows", len(entries)),
		slog.Int64("deleted", deleted),
		slog.Int64("max_id", maxID),
	)
	return deleted, nil
}

// Run archives rows older than retention every interval until ctx ends.
func (a *AuditArchiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := a.ArchiveAudit(ctx, time.Now().Add(-retention)); err != nil {
			a.logger.ErrorContext(ctx, "audit archive failed",
				slog.Int64("archived", n),
				slog.String("error", err.Error()),
			)
			if a.notifier != nil {
				if nerr := a.notifier.Notify(ctx, notify.EventArchiveFailed, "Audit archive failed", err.Error()); nerr != nil {
					a.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// archivePath partitions archives by the first row's UTC day:
//
//	audit/2026/10/16/1791999000123456789.jsonl
func archivePath(first time.Time) string {
	first = first.UTC()
	return fmt.Sprintf("audit/%s/%d.jsonl", first.Format("2006/01/02"), first.UnixNano())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*AuditArchiver)(nil)
