package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

func TestExportServiceOperationReportCSV(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate)
	logs := &mockLogStore{
		total: 2,
		entries: []models.OperationLogEntry{
			{Seq: 2, Level: models.LogLevelInfo, Message: "entry created", Timestamp: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)},
			{Seq: 1, Level: models.LogLevelInfo, Message: "operation started", Timestamp: time.Date(2026, 1, 5, 8, 59, 0, 0, time.UTC)},
		},
	}
	svc := NewExportService(newMockOpStore(op), logs, nil)

	result, err := svc.OperationReport(context.Background(), "op1", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasPrefix(result.Filename, "operation-op1-"))

	body := string(result.Content)
	assert.Contains(t, body, "seq,timestamp,level,message,details")
	assert.Contains(t, body, "entry created")
	assert.Contains(t, body, "operation started")
}

func TestExportServiceOperationReportPDF(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate)
	svc := NewExportService(newMockOpStore(op), &mockLogStore{}, nil)

	result, err := svc.OperationReport(context.Background(), "op1", ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.NotEmpty(t, result.Content)
	assert.True(t, strings.HasSuffix(result.Filename, ".pdf"))
}

func TestExportServiceOperationReportUnknownFormat(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate)
	svc := NewExportService(newMockOpStore(op), &mockLogStore{}, nil)

	_, err := svc.OperationReport(context.Background(), "op1", ExportFormat("xml"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportServiceOperationReportUnknownOperation(t *testing.T) {
	svc := NewExportService(newMockOpStore(), &mockLogStore{}, nil)

	_, err := svc.OperationReport(context.Background(), "missing", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
