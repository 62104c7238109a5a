package models

import (
	"fmt"
	"strings"
	"time"
)

// DayOfWeek names a teaching day for recurring entries.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdayNames = map[time.Weekday]DayOfWeek{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// DayOfWeekFromTime maps a calendar date to its DayOfWeek name.
func DayOfWeekFromTime(t time.Time) DayOfWeek {
	return weekdayNames[t.Weekday()]
}

// ParseDayOfWeek normalises user input to a DayOfWeek, reporting validity.
func ParseDayOfWeek(raw string) (DayOfWeek, bool) {
	day := DayOfWeek(strings.ToUpper(strings.TrimSpace(raw)))
	switch day {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return day, true
	default:
		return "", false
	}
}

// EntryType classifies a schedule entry.
type EntryType string

const (
	EntryTypeRegular EntryType = "REGULAR"
	EntryTypeMakeup  EntryType = "MAKEUP"
	EntryTypeExtra   EntryType = "EXTRA"
	EntryTypeExam    EntryType = "EXAM"
	EntryTypeEvent   EntryType = "EVENT"
)

// ValidEntryType reports whether t is a known entry type.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryTypeRegular, EntryTypeMakeup, EntryTypeExtra, EntryTypeExam, EntryTypeEvent:
		return true
	default:
		return false
	}
}

// ScheduleEntry is the unit being scheduled. An entry with a nil OccursOn is
// a recurring template applying every week on DayOfWeek; one with a date is a
// concrete occurrence that supersedes the template for that single date.
type ScheduleEntry struct {
	ID         string     `db:"id" json:"id"`
	BatchID    string     `db:"batch_id" json:"batch_id"`
	FacultyID  string     `db:"faculty_id" json:"faculty_id"`
	SubjectID  *string    `db:"subject_id" json:"subject_id,omitempty"`
	TimeSlotID string     `db:"time_slot_id" json:"time_slot_id"`
	StartTime  string     `db:"start_time" json:"start_time"`
	EndTime    string     `db:"end_time" json:"end_time"`
	DayOfWeek  DayOfWeek  `db:"day_of_week" json:"day_of_week"`
	OccursOn   *time.Time `db:"occurs_on" json:"occurs_on,omitempty"`
	EntryType  EntryType  `db:"entry_type" json:"entry_type"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Recurring reports whether the entry is a weekly template.
func (e *ScheduleEntry) Recurring() bool {
	return e.OccursOn == nil
}

// SubjectKey returns the subject id or an empty string for ad-hoc events.
func (e *ScheduleEntry) SubjectKey() string {
	if e.SubjectID == nil {
		return ""
	}
	return *e.SubjectID
}

// DuplicateKey identifies an entry for exact-duplicate detection. Two entries
// sharing the key are the same logical booking, never a conflict.
func (e *ScheduleEntry) DuplicateKey() string {
	occurs := ""
	if e.OccursOn != nil {
		occurs = e.OccursOn.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", e.BatchID, e.SubjectKey(), e.FacultyID, e.TimeSlotID, e.DayOfWeek, occurs)
}

// ScheduleEntryFilter describes query params for listing entries.
type ScheduleEntryFilter struct {
	BatchID   string
	FacultyID string
	SubjectID string
	DayOfWeek string
	EntryType string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
