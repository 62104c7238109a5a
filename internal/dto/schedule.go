package dto

import "github.com/noah-isme/batch-scheduler-api/internal/models"

// ScheduleEntryRequest is the payload for creating or updating an entry.
// OccursOn, when set, makes the entry a date-specific occurrence overriding
// the recurring template for that day; empty means "every DayOfWeek".
type ScheduleEntryRequest struct {
	BatchID    string `json:"batchId" validate:"required"`
	FacultyID  string `json:"facultyId" validate:"required"`
	SubjectID  string `json:"subjectId"`
	TimeSlotID string `json:"timeSlotId" validate:"required"`
	DayOfWeek  string `json:"dayOfWeek" validate:"required"`
	OccursOn   string `json:"occursOn"`
	EntryType  string `json:"entryType"`
	Override   bool   `json:"override"`
}

// ConflictCheckRequest validates a candidate entry without persisting it.
type ConflictCheckRequest struct {
	Entry ScheduleEntryRequest `json:"entry" validate:"required"`
	Date  string               `json:"date"`
}

// ConflictCheckResponse returns the detector output for a candidate.
type ConflictCheckResponse struct {
	Conflicts []models.ConflictReport `json:"conflicts"`
	Duplicate bool                    `json:"duplicate"`
	Severity  models.Severity         `json:"severity,omitempty"`
	CanCommit bool                    `json:"can_commit"`
}

// MergedBlock is a run of back-to-back same-subject same-faculty occurrences
// collapsed into one logical block for day views.
type MergedBlock struct {
	StartTime      string   `json:"start_time"`
	EndTime        string   `json:"end_time"`
	SubjectID      string   `json:"subject_id,omitempty"`
	FacultyID      string   `json:"faculty_id"`
	MemberEntryIDs []string `json:"member_entry_ids"`
	IsConsecutive  bool     `json:"is_consecutive"`
}

// DayViewResponse is the resolved and merged schedule for one batch and date.
type DayViewResponse struct {
	BatchID   string                  `json:"batch_id"`
	Date      string                  `json:"date"`
	DayOfWeek models.DayOfWeek        `json:"day_of_week"`
	Entries   []models.ScheduleEntry  `json:"entries"`
	Blocks    []MergedBlock           `json:"blocks"`
	Conflicts []models.ConflictReport `json:"conflicts,omitempty"`
}
