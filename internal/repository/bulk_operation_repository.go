package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

const bulkOperationColumns = "id, initiator_id, kind, status, items, total_items, processed_items, succeeded_items, failed_items, created_at, updated_at"

// BulkOperationRepository provides persistence for bulk operation records.
type BulkOperationRepository struct {
	db *sqlx.DB
}

// NewBulkOperationRepository creates a new bulk operation repository.
func NewBulkOperationRepository(db *sqlx.DB) *BulkOperationRepository {
	return &BulkOperationRepository{db: db}
}

// Create stores a new operation in PENDING state.
func (r *BulkOperationRepository) Create(ctx context.Context, op *models.BulkOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	if op.Status == "" {
		op.Status = models.OperationStatusPending
	}
	op.TotalItems = len(op.Items)

	const query = `INSERT INTO bulk_operations (id, initiator_id, kind, status, items, total_items, processed_items, succeeded_items, failed_items, created_at, updated_at)
VALUES (:id, :initiator_id, :kind, :status, :items, :total_items, :processed_items, :succeeded_items, :failed_items, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, op); err != nil {
		return fmt.Errorf("create bulk operation: %w", err)
	}
	return nil
}

// GetByID loads an operation by id.
func (r *BulkOperationRepository) GetByID(ctx context.Context, id string) (*models.BulkOperation, error) {
	query := fmt.Sprintf("SELECT %s FROM bulk_operations WHERE id = $1", bulkOperationColumns)
	var op models.BulkOperation
	if err := r.db.GetContext(ctx, &op, query, id); err != nil {
		return nil, err
	}
	return &op, nil
}

// List returns operations with optional filtering and pagination.
func (r *BulkOperationRepository) List(ctx context.Context, filter models.OperationFilter) ([]models.BulkOperation, int, error) {
	base := "FROM bulk_operations WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.InitiatorID != "" {
		conditions = append(conditions, fmt.Sprintf("initiator_id = $%d", len(args)+1))
		args = append(args, filter.InitiatorID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", bulkOperationColumns, base, size, offset)
	var ops []models.BulkOperation
	if err := r.db.SelectContext(ctx, &ops, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bulk operations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bulk operations: %w", err)
	}

	return ops, total, nil
}

// TransitionStatus performs a compare-and-swap status move so concurrent
// control requests cannot clobber each other. Returns sql.ErrNoRows when the
// operation is not currently in the expected state.
func (r *BulkOperationRepository) TransitionStatus(ctx context.Context, id string, from, to models.OperationStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bulk_operations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition operation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition operation status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetStatus writes a status unconditionally; reserved for the owning runner
// (terminal FAILED/COMPLETED writes after it has exclusive ownership).
func (r *BulkOperationRepository) SetStatus(ctx context.Context, id string, status models.OperationStatus) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE bulk_operations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("set operation status: %w", err)
	}
	return nil
}

// RecordItemTx advances the progress counters inside the caller's
// transaction so counters and the item's log entry commit together.
func (r *BulkOperationRepository) RecordItemTx(ctx context.Context, tx *sqlx.Tx, id string, succeeded bool) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	succeededDelta := 0
	failedDelta := 0
	if succeeded {
		succeededDelta = 1
	} else {
		failedDelta = 1
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bulk_operations SET processed_items = processed_items + 1, succeeded_items = succeeded_items + $2, failed_items = failed_items + $3, updated_at = $4 WHERE id = $1`,
		id, succeededDelta, failedDelta, time.Now().UTC()); err != nil {
		return fmt.Errorf("record operation item: %w", err)
	}
	return nil
}

// ListResumable returns non-terminal operations for startup recovery.
func (r *BulkOperationRepository) ListResumable(ctx context.Context, limit int) ([]models.BulkOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM bulk_operations WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT %d", bulkOperationColumns, limit)
	var ops []models.BulkOperation
	if err := r.db.SelectContext(ctx, &ops, query, models.OperationStatusPending, models.OperationStatusRunning); err != nil {
		return nil, fmt.Errorf("list resumable operations: %w", err)
	}
	return ops, nil
}
