package models

// ConflictType classifies a detected scheduling conflict.
type ConflictType string

const (
	ConflictBatchDoubleBooking ConflictType = "BATCH_DOUBLE_BOOKING"
	ConflictFaculty            ConflictType = "FACULTY_CONFLICT"
	ConflictTimeOverlap        ConflictType = "TIME_OVERLAP"
	ConflictModuleOverlap      ConflictType = "MODULE_OVERLAP"
	ConflictHolidayScheduling  ConflictType = "HOLIDAY_SCHEDULING"
	ConflictExamPeriod         ConflictType = "EXAM_PERIOD_CONFLICT"
)

// Severity ranks how serious a conflict is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns an ordinal for comparisons; unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Blocking reports whether conflicts at this severity must stop a commit.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ConflictReport describes one conflict between a subject entry and one or
// more existing entries. Reports are ephemeral and never persisted.
type ConflictReport struct {
	ConflictType        ConflictType `json:"conflict_type"`
	Severity            Severity     `json:"severity"`
	SubjectEntryID      string       `json:"subject_entry_id"`
	ConflictingEntryIDs []string     `json:"conflicting_entry_ids"`
	Message             string       `json:"message"`
}

// ConflictDetectedError carries the full report set for a rejected commit so
// clients can explain every conflict without the server re-deriving it.
type ConflictDetectedError struct {
	Message string           `json:"message"`
	Reports []ConflictReport `json:"reports"`
}

// Error implements the error interface.
func (e *ConflictDetectedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// References reports whether the report involves the given entry id.
func (r ConflictReport) References(entryID string) bool {
	if r.SubjectEntryID == entryID {
		return true
	}
	for _, id := range r.ConflictingEntryIDs {
		if id == entryID {
			return true
		}
	}
	return false
}
