package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

type operationLogStore interface {
	Append(ctx context.Context, entry *models.OperationLogEntry) error
	Query(ctx context.Context, operationID string, q models.OperationLogQuery) ([]models.OperationLogEntry, int, error)
}

type operationReader interface {
	GetByID(ctx context.Context, id string) (*models.BulkOperation, error)
}

// OperationLogService serves the append-only operation audit trail.
type OperationLogService struct {
	logs   operationLogStore
	ops    operationReader
	logger *zap.Logger
}

// NewOperationLogService wires log dependencies.
func NewOperationLogService(logs operationLogStore, ops operationReader, logger *zap.Logger) *OperationLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogService{logs: logs, ops: ops, logger: logger}
}

// Query returns a newest-first page of log entries for an operation.
func (s *OperationLogService) Query(ctx context.Context, operationID string, q models.OperationLogQuery) (*models.OperationLogPage, error) {
	if _, err := s.requireOperation(ctx, operationID); err != nil {
		return nil, err
	}
	if q.Level != "" && !models.ValidLogLevel(models.LogLevel(q.Level)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown log level %q", q.Level))
	}
	entries, total, err := s.logs.Query(ctx, operationID, q)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query operation log")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	return &models.OperationLogPage{
		Entries: entries,
		Total:   total,
		HasMore: offset+limit < total,
	}, nil
}

// Annotate appends a manual log line to an operation. Annotations share the
// stream with runner-written entries and are just as immutable.
func (s *OperationLogService) Annotate(ctx context.Context, operationID string, actor *models.User, req dto.AppendLogRequest) (*models.OperationLogEntry, error) {
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can annotate operation logs")
	}
	if _, err := s.requireOperation(ctx, operationID); err != nil {
		return nil, err
	}
	level := models.LogLevel(req.Level)
	if !models.ValidLogLevel(level) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown log level %q", req.Level))
	}
	details := req.Details
	if details == nil {
		details = models.LogDetails{}
	}
	details["annotated_by"] = actor.ID

	entry := &models.OperationLogEntry{
		ID:          uuid.NewString(),
		OperationID: operationID,
		Level:       level,
		Message:     req.Message,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append log entry")
	}
	return entry, nil
}

func (s *OperationLogService) requireOperation(ctx context.Context, id string) (*models.BulkOperation, error) {
	op, err := s.ops.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "operation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load operation")
	}
	return op, nil
}
