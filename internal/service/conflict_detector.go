package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

// ConflictDetector finds overlapping-interval pairs within one calendar day
// and classifies them by conflict type and severity. It is an early-reject
// optimisation; the partial unique index on schedule_entries remains the
// concurrency backstop for exact duplicates.
type ConflictDetector struct {
	logger *zap.Logger
}

// NewConflictDetector constructs a detector.
func NewConflictDetector(logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{logger: logger}
}

// Detect resolves the entries onto the date and reports every conflict pair.
// Reports are pairwise: three mutually overlapping entries yield three
// reports, never one merged report. An entry appearing in several reports
// keeps them all; MaxSeverity is the display-side tie-break.
func (d *ConflictDetector) Detect(entries []models.ScheduleEntry, date time.Time, dayCtx models.DayContext) ([]models.ConflictReport, error) {
	occurrences, err := ResolveDay(entries, date)
	if err != nil {
		return nil, err
	}

	reports := make([]models.ConflictReport, 0)
	reports = append(reports, calendarReports(occurrences, dayCtx)...)

	// Same-batch pairs: a batch cannot attend two classes at once.
	for _, group := range groupOccurrences(occurrences, func(o Occurrence) string { return o.Entry.BatchID }) {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Entry.DuplicateKey() == b.Entry.DuplicateKey() {
					continue
				}
				if !a.Overlaps(b) {
					continue
				}
				reports = append(reports, models.ConflictReport{
					ConflictType:        models.ConflictBatchDoubleBooking,
					Severity:            models.SeverityCritical,
					SubjectEntryID:      a.Entry.ID,
					ConflictingEntryIDs: []string{b.Entry.ID},
					Message:             fmt.Sprintf("batch %s is booked for two overlapping sessions (%s and %s)", a.Entry.BatchID, a.Entry.ID, b.Entry.ID),
				})
			}
		}
	}

	// Same-faculty pairs; entries without a faculty are skipped.
	for facultyID, group := range groupOccurrences(occurrences, func(o Occurrence) string { return o.Entry.FacultyID }) {
		if facultyID == "" {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Entry.DuplicateKey() == b.Entry.DuplicateKey() {
					continue
				}
				if !a.Overlaps(b) {
					continue
				}
				reports = append(reports, models.ConflictReport{
					ConflictType:        models.ConflictFaculty,
					Severity:            models.SeverityHigh,
					SubjectEntryID:      a.Entry.ID,
					ConflictingEntryIDs: []string{b.Entry.ID},
					Message:             fmt.Sprintf("faculty %s is assigned to two overlapping sessions (%s and %s)", facultyID, a.Entry.ID, b.Entry.ID),
				})
			}
		}
	}

	// Remaining overlapping pairs share neither batch nor faculty: no hard
	// resource clash, reported for day-density awareness.
	for i := 0; i < len(occurrences); i++ {
		for j := i + 1; j < len(occurrences); j++ {
			a, b := occurrences[i], occurrences[j]
			if a.Entry.BatchID == b.Entry.BatchID || (a.Entry.FacultyID != "" && a.Entry.FacultyID == b.Entry.FacultyID) {
				continue
			}
			if a.Entry.DuplicateKey() == b.Entry.DuplicateKey() {
				continue
			}
			if !a.Overlaps(b) {
				continue
			}
			reports = append(reports, softOverlapReport(a, b))
		}
	}

	if len(reports) > 0 {
		d.logger.Debug("conflicts detected",
			zap.Time("date", date),
			zap.Int("entries", len(occurrences)),
			zap.Int("reports", len(reports)))
	}
	return reports, nil
}

func softOverlapReport(a, b Occurrence) models.ConflictReport {
	if a.Entry.SubjectKey() != "" && a.Entry.SubjectKey() == b.Entry.SubjectKey() {
		return models.ConflictReport{
			ConflictType:        models.ConflictModuleOverlap,
			Severity:            models.SeverityMedium,
			SubjectEntryID:      a.Entry.ID,
			ConflictingEntryIDs: []string{b.Entry.ID},
			Message:             fmt.Sprintf("subject %s runs in overlapping sessions for different batches (%s and %s)", a.Entry.SubjectKey(), a.Entry.ID, b.Entry.ID),
		}
	}
	severity := models.SeverityMedium
	if a.Entry.EntryType == models.EntryTypeEvent && b.Entry.EntryType == models.EntryTypeEvent {
		severity = models.SeverityLow
	}
	return models.ConflictReport{
		ConflictType:        models.ConflictTimeOverlap,
		Severity:            severity,
		SubjectEntryID:      a.Entry.ID,
		ConflictingEntryIDs: []string{b.Entry.ID},
		Message:             fmt.Sprintf("sessions %s and %s overlap in time", a.Entry.ID, b.Entry.ID),
	}
}

func calendarReports(occurrences []Occurrence, dayCtx models.DayContext) []models.ConflictReport {
	var reports []models.ConflictReport
	for _, occ := range occurrences {
		if dayCtx.Holiday != nil && occ.Entry.EntryType != models.EntryTypeEvent {
			reports = append(reports, models.ConflictReport{
				ConflictType:        models.ConflictHolidayScheduling,
				Severity:            models.SeverityHigh,
				SubjectEntryID:      occ.Entry.ID,
				ConflictingEntryIDs: []string{dayCtx.Holiday.ID},
				Message:             fmt.Sprintf("session %s is scheduled on holiday %q", occ.Entry.ID, dayCtx.Holiday.Label),
			})
		}
		if dayCtx.ExamPeriod != nil && occ.Entry.EntryType != models.EntryTypeExam {
			reports = append(reports, models.ConflictReport{
				ConflictType:        models.ConflictExamPeriod,
				Severity:            models.SeverityMedium,
				SubjectEntryID:      occ.Entry.ID,
				ConflictingEntryIDs: []string{dayCtx.ExamPeriod.ID},
				Message:             fmt.Sprintf("non-exam session %s falls inside exam period %q", occ.Entry.ID, dayCtx.ExamPeriod.Label),
			})
		}
	}
	return reports
}

func groupOccurrences(occurrences []Occurrence, key func(Occurrence) string) map[string][]Occurrence {
	groups := make(map[string][]Occurrence)
	for _, occ := range occurrences {
		k := key(occ)
		groups[k] = append(groups[k], occ)
	}
	return groups
}

// MaxSeverity returns the highest severity among reports referencing the
// entry, or the empty severity when none do.
func MaxSeverity(reports []models.ConflictReport, entryID string) models.Severity {
	var max models.Severity
	for _, report := range reports {
		if !report.References(entryID) {
			continue
		}
		if report.Severity.Rank() > max.Rank() {
			max = report.Severity
		}
	}
	return max
}
