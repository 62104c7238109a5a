package dto

import "github.com/noah-isme/batch-scheduler-api/internal/models"

// CreateOperationRequest submits a batch of schedule mutations for
// coordinated background execution.
type CreateOperationRequest struct {
	Kind    string                 `json:"kind" validate:"required"`
	Entries []ScheduleEntryRequest `json:"entries"`
	// EntryIDs names existing entries for MASS_DELETE.
	EntryIDs []string `json:"entryIds"`
	// Dates lists target dates (YYYY-MM-DD) for TEMPLATE_APPLY.
	Dates []string `json:"dates"`
}

// OperationActionRequest carries a pause or resume signal.
type OperationActionRequest struct {
	Action string `json:"action" validate:"required,oneof=pause resume"`
}

// OperationStatusResponse is the pollable progress snapshot. Counters are
// monotonically non-decreasing; Processed always equals Succeeded + Failed.
type OperationStatusResponse struct {
	ID        string                 `json:"id"`
	Kind      models.OperationKind   `json:"kind"`
	Status    models.OperationStatus `json:"status"`
	Total     int                    `json:"total_items"`
	Processed int                    `json:"processed_items"`
	Succeeded int                    `json:"succeeded_items"`
	Failed    int                    `json:"failed_items"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
}

// AppendLogRequest is an admin-only manual annotation on an operation log.
type AppendLogRequest struct {
	Level   string            `json:"level" validate:"required"`
	Message string            `json:"message" validate:"required"`
	Details models.LogDetails `json:"details"`
}
