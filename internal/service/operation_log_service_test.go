package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

type mockLogStore struct {
	entries []models.OperationLogEntry
	total   int
}

func (m *mockLogStore) Append(ctx context.Context, entry *models.OperationLogEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockLogStore) Query(ctx context.Context, operationID string, q models.OperationLogQuery) ([]models.OperationLogEntry, int, error) {
	return m.entries, m.total, nil
}

func newLogHarness(total int, ops ...*models.BulkOperation) (*OperationLogService, *mockLogStore) {
	logs := &mockLogStore{total: total}
	return NewOperationLogService(logs, newMockOpStore(ops...), nil), logs
}

func TestOperationLogServiceQueryPagination(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate)

	cases := []struct {
		name    string
		query   models.OperationLogQuery
		total   int
		hasMore bool
	}{
		{name: "more pages remain", query: models.OperationLogQuery{Limit: 10, Offset: 0}, total: 25, hasMore: true},
		{name: "exact boundary", query: models.OperationLogQuery{Limit: 10, Offset: 15}, total: 25, hasMore: false},
		{name: "last partial page", query: models.OperationLogQuery{Limit: 10, Offset: 20}, total: 25, hasMore: false},
		{name: "defaults apply", query: models.OperationLogQuery{}, total: 40, hasMore: false},
		{name: "limit clamped to 200", query: models.OperationLogQuery{Limit: 1000}, total: 500, hasMore: true},
		{name: "negative offset treated as zero", query: models.OperationLogQuery{Limit: 10, Offset: -5}, total: 25, hasMore: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newLogHarness(tc.total, op)
			page, err := svc.Query(context.Background(), "op1", tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.total, page.Total)
			assert.Equal(t, tc.hasMore, page.HasMore)
		})
	}
}

func TestOperationLogServiceQueryRejectsUnknownLevel(t *testing.T) {
	svc, _ := newLogHarness(0, pendingOperation("op1", models.OperationKindMassCreate))

	_, err := svc.Query(context.Background(), "op1", models.OperationLogQuery{Level: "VERBOSE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOperationLogServiceQueryUnknownOperation(t *testing.T) {
	svc, _ := newLogHarness(0)

	_, err := svc.Query(context.Background(), "missing", models.OperationLogQuery{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestOperationLogServiceAnnotate(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate)
	svc, logs := newLogHarness(0, op)
	admin := &models.User{ID: "admin-1", Role: models.RoleAdmin}

	entry, err := svc.Annotate(context.Background(), "op1", admin, dto.AppendLogRequest{
		Level:   "INFO",
		Message: "verified with registrar",
	})
	require.NoError(t, err)
	assert.Equal(t, "op1", entry.OperationID)
	assert.Equal(t, models.LogLevelInfo, entry.Level)
	assert.Equal(t, "admin-1", entry.Details["annotated_by"])
	require.Len(t, logs.entries, 1)
	assert.Equal(t, "verified with registrar", logs.entries[0].Message)
}

func TestOperationLogServiceAnnotateRequiresAdmin(t *testing.T) {
	svc, logs := newLogHarness(0, pendingOperation("op1", models.OperationKindMassCreate))
	scheduler := &models.User{ID: "scheduler-1", Role: models.RoleScheduler}

	_, err := svc.Annotate(context.Background(), "op1", scheduler, dto.AppendLogRequest{Level: "INFO", Message: "note"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, logs.entries)
}

func TestOperationLogServiceAnnotateRejectsUnknownLevel(t *testing.T) {
	svc, _ := newLogHarness(0, pendingOperation("op1", models.OperationKindMassCreate))
	admin := &models.User{ID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Annotate(context.Background(), "op1", admin, dto.AppendLogRequest{Level: "TRACE", Message: "note"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
