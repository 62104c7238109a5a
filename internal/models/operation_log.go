package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LogLevel grades operation log entries.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ValidLogLevel reports whether l is a known level.
func ValidLogLevel(l LogLevel) bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// LogDetails is an optional structured payload stored alongside a log line.
type LogDetails map[string]interface{}

// Value marshals details for persistence.
func (d LogDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal log details: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the details map.
func (d *LogDetails) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for LogDetails", value)
	}
	if len(data) == 0 {
		*d = nil
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal log details: %w", err)
	}
	return nil
}

// OperationLogEntry is an append-only audit record tied to a bulk operation.
// Entries are never mutated or deleted; Seq increases monotonically within
// an operation so pagination stays stable even for equal timestamps.
type OperationLogEntry struct {
	ID          string     `db:"id" json:"id"`
	OperationID string     `db:"operation_id" json:"operation_id"`
	Seq         int64      `db:"seq" json:"seq"`
	Level       LogLevel   `db:"level" json:"level"`
	Message     string     `db:"message" json:"message"`
	Details     LogDetails `db:"details" json:"details,omitempty"`
	Timestamp   time.Time  `db:"timestamp" json:"timestamp"`
}

// OperationLogQuery describes pagination and filtering for log reads.
type OperationLogQuery struct {
	Level  string
	Limit  int
	Offset int
}

// OperationLogPage is the paginated query result.
type OperationLogPage struct {
	Entries []OperationLogEntry `json:"entries"`
	Total   int                 `json:"total"`
	HasMore bool                `json:"has_more"`
}
