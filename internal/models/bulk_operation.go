package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind enumerates supported bulk mutation categories.
type OperationKind string

const (
	OperationKindImport        OperationKind = "IMPORT"
	OperationKindMassCreate    OperationKind = "MASS_CREATE"
	OperationKindMassDelete    OperationKind = "MASS_DELETE"
	OperationKindTemplateApply OperationKind = "TEMPLATE_APPLY"
)

// ValidOperationKind reports whether k is a known kind.
func ValidOperationKind(k OperationKind) bool {
	switch k {
	case OperationKindImport, OperationKindMassCreate, OperationKindMassDelete, OperationKindTemplateApply:
		return true
	default:
		return false
	}
}

// OperationStatus captures the bulk operation lifecycle states.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "PENDING"
	OperationStatusRunning   OperationStatus = "RUNNING"
	OperationStatusPaused    OperationStatus = "PAUSED"
	OperationStatusCancelled OperationStatus = "CANCELLED"
	OperationStatusCompleted OperationStatus = "COMPLETED"
	OperationStatusFailed    OperationStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s OperationStatus) Terminal() bool {
	switch s {
	case OperationStatusCancelled, OperationStatusCompleted, OperationStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition validates a lifecycle move per the coordinator state machine.
func (s OperationStatus) CanTransition(to OperationStatus) bool {
	switch s {
	case OperationStatusPending:
		return to == OperationStatusRunning
	case OperationStatusRunning:
		return to == OperationStatusPaused || to == OperationStatusCancelled ||
			to == OperationStatusCompleted || to == OperationStatusFailed
	case OperationStatusPaused:
		return to == OperationStatusRunning || to == OperationStatusCancelled
	default:
		return false
	}
}

// OperationItem is one unit of work inside a bulk operation. For MASS_DELETE
// only EntryID is set; for the other kinds Entry carries the candidate.
type OperationItem struct {
	Index   int            `json:"index"`
	EntryID string         `json:"entryId,omitempty"`
	Entry   *ScheduleEntry `json:"entry,omitempty"`
}

// OperationItems stores the work queue persisted as JSONB so a paused or
// interrupted operation can resume from its processed offset.
type OperationItems []OperationItem

// Value marshals items for persistence.
func (p OperationItems) Value() (driver.Value, error) {
	if p == nil {
		p = OperationItems{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal operation items: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the item slice.
func (p *OperationItems) Scan(value interface{}) error {
	if value == nil {
		*p = OperationItems{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for OperationItems", value)
	}
	if len(data) == 0 {
		*p = OperationItems{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal operation items: %w", err)
	}
	return nil
}

// BulkOperation is the persisted job record for a tracked, cancellable,
// resumable batch of schedule mutations.
type BulkOperation struct {
	ID             string          `db:"id" json:"id"`
	InitiatorID    string          `db:"initiator_id" json:"initiator_id"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	Status         OperationStatus `db:"status" json:"status"`
	Items          OperationItems  `db:"items" json:"-"`
	TotalItems     int             `db:"total_items" json:"total_items"`
	ProcessedItems int             `db:"processed_items" json:"processed_items"`
	SucceededItems int             `db:"succeeded_items" json:"succeeded_items"`
	FailedItems    int             `db:"failed_items" json:"failed_items"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OperationFilter describes query params for listing operations.
type OperationFilter struct {
	InitiatorID string
	Kind        string
	Status      string
	Page        int
	PageSize    int
}
