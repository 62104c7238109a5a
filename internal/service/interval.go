package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

const clockLayout = "15:04"

// Occurrence is a schedule entry resolved onto a concrete calendar date as a
// half-open [Start, End) interval.
type Occurrence struct {
	Entry models.ScheduleEntry
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two occurrences share any instant.
func (o Occurrence) Overlaps(other Occurrence) bool {
	return o.Start.Before(other.End) && other.Start.Before(o.End)
}

// ResolveInterval maps an entry onto a date. It returns nil when the entry
// does not occur on that date: a date-specific entry occurs only on its own
// date, a recurring template on every date whose weekday matches. Malformed
// clock values or an end at or before the start are validation errors.
func ResolveInterval(entry models.ScheduleEntry, date time.Time) (*Occurrence, error) {
	if entry.OccursOn != nil {
		if !sameDate(*entry.OccursOn, date) {
			return nil, nil
		}
	} else if entry.DayOfWeek != models.DayOfWeekFromTime(date) {
		return nil, nil
	}

	start, err := atClock(date, entry.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("entry %s has invalid start time %q", entry.ID, entry.StartTime))
	}
	end, err := atClock(date, entry.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("entry %s has invalid end time %q", entry.ID, entry.EndTime))
	}
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("entry %s has empty interval %s-%s", entry.ID, entry.StartTime, entry.EndTime))
	}

	return &Occurrence{Entry: entry, Start: start, End: end}, nil
}

// ResolveDay resolves every entry that occurs on the date, applying override
// precedence: a date-specific entry suppresses the recurring template for the
// same batch and time slot on that single date. Output is sorted by start
// time, then entry id for determinism.
func ResolveDay(entries []models.ScheduleEntry, date time.Time) ([]Occurrence, error) {
	overridden := make(map[string]bool)
	for _, entry := range entries {
		if entry.OccursOn != nil && sameDate(*entry.OccursOn, date) {
			overridden[overrideKey(entry)] = true
		}
	}

	occurrences := make([]Occurrence, 0, len(entries))
	for _, entry := range entries {
		if entry.Recurring() && overridden[overrideKey(entry)] {
			continue
		}
		occ, err := ResolveInterval(entry, date)
		if err != nil {
			return nil, err
		}
		if occ == nil {
			continue
		}
		occurrences = append(occurrences, *occ)
	}

	sort.Slice(occurrences, func(i, j int) bool {
		if occurrences[i].Start.Equal(occurrences[j].Start) {
			return occurrences[i].Entry.ID < occurrences[j].Entry.ID
		}
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, nil
}

func overrideKey(entry models.ScheduleEntry) string {
	return entry.BatchID + "|" + entry.TimeSlotID
}

func atClock(date time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.UTC), nil
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
