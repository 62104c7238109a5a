package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

func occurrencesFor(t *testing.T, entries []models.ScheduleEntry) []Occurrence {
	t.Helper()
	occurrences, err := ResolveDay(entries, dateOn(t, "2026-01-05"))
	require.NoError(t, err)
	return occurrences
}

func subjectEntry(id, subject, faculty, slot, start, end string) models.ScheduleEntry {
	entry := entryAt(id, "b1", faculty, slot, start, end, models.Monday)
	if subject != "" {
		entry.SubjectID = &subject
	}
	return entry
}

func TestMergeDayCollapsesConsecutiveSameSubjectSameFaculty(t *testing.T) {
	occurrences := occurrencesFor(t, []models.ScheduleEntry{
		subjectEntry("a", "math", "f1", "s1", "09:00", "10:00"),
		subjectEntry("b", "math", "f1", "s2", "10:00", "11:00"),
		subjectEntry("c", "math", "f1", "s3", "11:00", "12:00"),
	})

	blocks, err := MergeDay(occurrences)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "09:00", blocks[0].StartTime)
	assert.Equal(t, "12:00", blocks[0].EndTime)
	assert.Equal(t, []string{"a", "b", "c"}, blocks[0].MemberEntryIDs)
	assert.True(t, blocks[0].IsConsecutive)
}

func TestMergeDaySubjectChangeBreaksBlock(t *testing.T) {
	occurrences := occurrencesFor(t, []models.ScheduleEntry{
		subjectEntry("a", "math", "f1", "s1", "09:00", "10:00"),
		subjectEntry("b", "physics", "f1", "s2", "10:00", "11:00"),
	})

	blocks, err := MergeDay(occurrences)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.False(t, blocks[0].IsConsecutive)
	assert.False(t, blocks[1].IsConsecutive)
}

func TestMergeDayFacultyChangeBreaksBlock(t *testing.T) {
	occurrences := occurrencesFor(t, []models.ScheduleEntry{
		subjectEntry("a", "math", "f1", "s1", "09:00", "10:00"),
		subjectEntry("b", "math", "f2", "s2", "10:00", "11:00"),
	})

	blocks, err := MergeDay(occurrences)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestMergeDayAnyGapBreaksBlock(t *testing.T) {
	occurrences := occurrencesFor(t, []models.ScheduleEntry{
		subjectEntry("a", "math", "f1", "s1", "09:00", "10:00"),
		subjectEntry("b", "math", "f1", "s2", "10:01", "11:00"),
	})

	blocks, err := MergeDay(occurrences)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"a"}, blocks[0].MemberEntryIDs)
	assert.Equal(t, []string{"b"}, blocks[1].MemberEntryIDs)
}

func TestMergeDaySingleOccurrenceIsNotConsecutive(t *testing.T) {
	occurrences := occurrencesFor(t, []models.ScheduleEntry{
		subjectEntry("a", "math", "f1", "s1", "09:00", "10:00"),
	})

	blocks, err := MergeDay(occurrences)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.False(t, blocks[0].IsConsecutive)
}

func TestMergeDayEmptyInput(t *testing.T) {
	blocks, err := MergeDay(nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestMergeDayRejectsEmptyInterval(t *testing.T) {
	bad := Occurrence{
		Entry: subjectEntry("a", "math", "f1", "s1", "09:00", "09:00"),
		Start: dateOn(t, "2026-01-05"),
		End:   dateOn(t, "2026-01-05"),
	}
	_, err := MergeDay([]Occurrence{bad})
	assert.Error(t, err)
}
