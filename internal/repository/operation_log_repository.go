package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

const operationLogColumns = "id, operation_id, seq, level, message, details, timestamp"

// OperationLogRepository provides append-only persistence for operation logs.
type OperationLogRepository struct {
	db *sqlx.DB
}

// NewOperationLogRepository creates a new operation log repository.
func NewOperationLogRepository(db *sqlx.DB) *OperationLogRepository {
	return &OperationLogRepository{db: db}
}

// Append stores a log entry, assigning the next per-operation sequence
// number. There is no update or delete path; the table is an audit trail.
func (r *OperationLogRepository) Append(ctx context.Context, entry *models.OperationLogEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log append: %w", err)
	}
	if err := r.append(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log append: %w", err)
	}
	return nil
}

// AppendTx appends within an existing transaction so the entry commits
// atomically with the item write it describes.
func (r *OperationLogRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *models.OperationLogEntry) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	return r.append(ctx, tx, entry)
}

func (r *OperationLogRepository) append(ctx context.Context, tx *sqlx.Tx, entry *models.OperationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	details, err := entry.Details.Value()
	if err != nil {
		return err
	}
	// Appends for one operation are serialized behind a transaction-scoped
	// advisory lock. MAX(seq)+1 would otherwise mint duplicate sequence
	// numbers when a manual annotation races the runner's item transaction.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.OperationID); err != nil {
		return fmt.Errorf("lock operation log: %w", err)
	}
	const query = `INSERT INTO operation_log_entries (id, operation_id, seq, level, message, details, timestamp)
VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM operation_log_entries WHERE operation_id = $2), $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.OperationID, entry.Level, entry.Message, details, entry.Timestamp); err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}
	return nil
}

// Query returns a log page for one operation, newest first by default, with
// an optional level filter. Ordering is by seq so pagination stays stable
// when entries share a timestamp.
func (r *OperationLogRepository) Query(ctx context.Context, operationID string, q models.OperationLogQuery) ([]models.OperationLogEntry, int, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	base := "FROM operation_log_entries WHERE operation_id = $1"
	args := []interface{}{operationID}
	if q.Level != "" {
		base += fmt.Sprintf(" AND level = $%d", len(args)+1)
		args = append(args, q.Level)
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY seq DESC LIMIT %d OFFSET %d", operationLogColumns, base, limit, offset)
	var entries []models.OperationLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("query operation log: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count operation log: %w", err)
	}

	return entries, total, nil
}

// CountByLevel returns how many entries an operation holds at one level;
// used for export summaries.
func (r *OperationLogRepository) CountByLevel(ctx context.Context, operationID string, level models.LogLevel) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM operation_log_entries WHERE operation_id = $1 AND level = $2`, operationID, level); err != nil {
		return 0, fmt.Errorf("count operation log by level: %w", err)
	}
	return total, nil
}
