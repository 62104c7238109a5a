package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
	"github.com/noah-isme/batch-scheduler-api/pkg/export"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus HTTP presentation hints.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders operation reports into downloadable documents.
type ExportService struct {
	ops    operationReader
	logs   operationLogStore
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService wires export dependencies.
func NewExportService(ops operationReader, logs operationLogStore, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		ops:    ops,
		logs:   logs,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// OperationReport renders an operation's summary and full log trail.
func (s *ExportService) OperationReport(ctx context.Context, operationID string, format ExportFormat) (*ExportResult, error) {
	op, err := s.ops.GetByID(ctx, operationID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "operation not found")
	}

	// The log repo caps page size; walk pages to export the full trail.
	var entries []models.OperationLogEntry
	offset := 0
	for {
		page, total, err := s.logs.Query(ctx, operationID, models.OperationLogQuery{Limit: 200, Offset: offset})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read operation log")
		}
		entries = append(entries, page...)
		offset += len(page)
		if offset >= total || len(page) == 0 {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"seq", "timestamp", "level", "message", "details"},
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	for _, entry := range entries {
		details := ""
		if entry.Details != nil {
			if raw, err := json.Marshal(entry.Details); err == nil {
				details = string(raw)
			}
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"seq":       strconv.FormatInt(entry.Seq, 10),
			"timestamp": entry.Timestamp.UTC().Format(time.RFC3339),
			"level":     string(entry.Level),
			"message":   entry.Message,
			"details":   details,
		})
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("operation-%s-%s.csv", op.ID, stamp),
		}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("Operation %s (%s, %s) - %d/%d items succeeded",
			op.ID, op.Kind, op.Status, op.SucceededItems, op.TotalItems)
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("operation-%s-%s.pdf", op.ID, stamp),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}
