package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

// MergeDay collapses chains of back-to-back same-subject same-faculty
// occurrences into single blocks. An occurrence extends the current block
// only when its subject and faculty match the block's last member and its
// start equals the previous occurrence's end exactly; any gap, even a
// minute, starts a new block. Single linear pass, no backtracking.
func MergeDay(occurrences []Occurrence) ([]dto.MergedBlock, error) {
	for _, occ := range occurrences {
		if !occ.End.After(occ.Start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("entry %s has empty interval, cannot merge", occ.Entry.ID))
		}
	}

	sorted := make([]Occurrence, len(occurrences))
	copy(sorted, occurrences)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Entry.ID < sorted[j].Entry.ID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	blocks := make([]dto.MergedBlock, 0, len(sorted))
	var prevEnd time.Time
	for _, occ := range sorted {
		if n := len(blocks); n > 0 {
			last := &blocks[n-1]
			if last.SubjectID == occ.Entry.SubjectKey() &&
				last.FacultyID == occ.Entry.FacultyID &&
				occ.Start.Equal(prevEnd) {
				last.EndTime = occ.Entry.EndTime
				last.MemberEntryIDs = append(last.MemberEntryIDs, occ.Entry.ID)
				last.IsConsecutive = true
				prevEnd = occ.End
				continue
			}
		}
		blocks = append(blocks, dto.MergedBlock{
			StartTime:      occ.Entry.StartTime,
			EndTime:        occ.Entry.EndTime,
			SubjectID:      occ.Entry.SubjectKey(),
			FacultyID:      occ.Entry.FacultyID,
			MemberEntryIDs: []string{occ.Entry.ID},
		})
		prevEnd = occ.End
	}
	return blocks, nil
}
