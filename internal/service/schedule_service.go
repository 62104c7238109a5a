package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type scheduleEntryStore interface {
	List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntry, int, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleEntry, error)
	FindActiveForBatchOnDate(ctx context.Context, batchID string, date time.Time) ([]models.ScheduleEntry, error)
	FindActiveForFacultyOnDate(ctx context.Context, facultyID string, date time.Time) ([]models.ScheduleEntry, error)
	Create(ctx context.Context, entry *models.ScheduleEntry) (bool, error)
	Update(ctx context.Context, entry *models.ScheduleEntry) error
	Deactivate(ctx context.Context, id string) error
}

type timeSlotReader interface {
	List(ctx context.Context) ([]models.TimeSlot, error)
	FindByID(ctx context.Context, id string) (*models.TimeSlot, error)
}

type calendarReader interface {
	DayContext(ctx context.Context, date time.Time) (models.DayContext, error)
}

// ScheduleService manages single schedule entries: validation, synchronous
// conflict checking, commits and the merged day view.
type ScheduleService struct {
	entries   scheduleEntryStore
	slots     timeSlotReader
	calendar  calendarReader
	detector  *ConflictDetector
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService wires schedule dependencies.
func NewScheduleService(entries scheduleEntryStore, slots timeSlotReader, calendar calendarReader, detector *ConflictDetector, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewConflictDetector(logger)
	}
	return &ScheduleService{
		entries:   entries,
		slots:     slots,
		calendar:  calendar,
		detector:  detector,
		validator: validate,
		logger:    logger,
	}
}

// CreateResult reports the outcome of a commit attempt.
type CreateResult struct {
	Entry     *models.ScheduleEntry   `json:"entry"`
	Conflicts []models.ConflictReport `json:"conflicts,omitempty"`
	Duplicate bool                    `json:"duplicate"`
}

// Create validates a candidate, runs conflict detection against committed
// entries and persists it. An exact duplicate is not an error: the existing
// entry is returned as already satisfied. Blocking conflicts abort unless
// the caller overrides, which is never allowed for a batch double booking.
func (s *ScheduleService) Create(ctx context.Context, req dto.ScheduleEntryRequest) (*CreateResult, error) {
	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return nil, err
	}

	date := evaluationDate(entry)
	existing, err := s.committedNeighbours(ctx, entry, date, "")
	if err != nil {
		return nil, err
	}

	for i := range existing {
		if existing[i].DuplicateKey() == entry.DuplicateKey() {
			return &CreateResult{Entry: &existing[i], Duplicate: true}, nil
		}
	}

	conflicts, err := s.detectForCandidate(ctx, entry, existing, date)
	if err != nil {
		return nil, err
	}
	if blocked, overridable := commitBlocked(conflicts, req.Override); blocked {
		msg := "schedule conflict detected"
		if !overridable {
			msg = "schedule conflict detected; batch double booking cannot be overridden"
		}
		return nil, appErrors.Wrap(&models.ConflictDetectedError{Message: msg, Reports: conflicts}, appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, msg)
	}

	inserted, err := s.entries.Create(ctx, entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist schedule entry")
	}
	if !inserted {
		// A concurrent writer committed the same booking first; the unique
		// index treated it as the same logical entry.
		return &CreateResult{Entry: entry, Duplicate: true}, nil
	}
	return &CreateResult{Entry: entry, Conflicts: conflicts}, nil
}

// Check runs the detector for a candidate without persisting anything. The
// caller decides whether to commit, override or abort.
func (s *ScheduleService) Check(ctx context.Context, req dto.ConflictCheckRequest) (*dto.ConflictCheckResponse, error) {
	entry, err := s.buildEntry(ctx, req.Entry)
	if err != nil {
		return nil, err
	}

	date := evaluationDate(entry)
	if req.Date != "" {
		parsed, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
		}
		date = parsed
	}

	existing, err := s.committedNeighbours(ctx, entry, date, "")
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].DuplicateKey() == entry.DuplicateKey() {
			return &dto.ConflictCheckResponse{Duplicate: true, CanCommit: true, Conflicts: []models.ConflictReport{}}, nil
		}
	}

	conflicts, err := s.detectForCandidate(ctx, entry, existing, date)
	if err != nil {
		return nil, err
	}
	blocked, _ := commitBlocked(conflicts, false)
	return &dto.ConflictCheckResponse{
		Conflicts: conflicts,
		Severity:  MaxSeverity(conflicts, entry.ID),
		CanCommit: !blocked,
	}, nil
}

// Update applies changes to an existing entry, re-running conflict checks
// against everything except the entry itself.
func (s *ScheduleService) Update(ctx context.Context, id string, req dto.ScheduleEntryRequest) (*CreateResult, error) {
	current, err := s.entries.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}

	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return nil, err
	}
	entry.ID = current.ID
	entry.CreatedAt = current.CreatedAt
	entry.Active = current.Active

	date := evaluationDate(entry)
	existing, err := s.committedNeighbours(ctx, entry, date, entry.ID)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.detectForCandidate(ctx, entry, existing, date)
	if err != nil {
		return nil, err
	}
	if blocked, overridable := commitBlocked(conflicts, req.Override); blocked {
		msg := "schedule conflict detected"
		if !overridable {
			msg = "schedule conflict detected; batch double booking cannot be overridden"
		}
		return nil, appErrors.Wrap(&models.ConflictDetectedError{Message: msg, Reports: conflicts}, appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, msg)
	}

	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule entry")
	}
	return &CreateResult{Entry: entry, Conflicts: conflicts}, nil
}

// List returns entries matching the filter.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntry, *models.Pagination, error) {
	entries, total, err := s.entries.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule entries")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads one entry.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}
	return entry, nil
}

// Deactivate soft-deletes an entry.
func (s *ScheduleService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.entries.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate schedule entry")
	}
	return nil
}

// Slots lists the shared time slot catalog.
func (s *ScheduleService) Slots(ctx context.Context) ([]models.TimeSlot, error) {
	slots, err := s.slots.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	return slots, nil
}

// DayView resolves one batch's schedule for a date and merges consecutive
// same-subject same-faculty slots into blocks.
func (s *ScheduleService) DayView(ctx context.Context, batchID, rawDate string) (*dto.DayViewResponse, error) {
	if batchID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch id is required")
	}
	date, err := time.Parse(dateLayout, rawDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}

	entries, err := s.entries.FindActiveForBatchOnDate(ctx, batchID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch schedule")
	}
	occurrences, err := ResolveDay(entries, date)
	if err != nil {
		return nil, err
	}
	blocks, err := MergeDay(occurrences)
	if err != nil {
		return nil, err
	}

	dayCtx, err := s.dayContext(ctx, date)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.detector.Detect(entries, date, dayCtx)
	if err != nil {
		return nil, err
	}

	resolved := make([]models.ScheduleEntry, 0, len(occurrences))
	for _, occ := range occurrences {
		resolved = append(resolved, occ.Entry)
	}
	return &dto.DayViewResponse{
		BatchID:   batchID,
		Date:      date.Format(dateLayout),
		DayOfWeek: models.DayOfWeekFromTime(date),
		Entries:   resolved,
		Blocks:    blocks,
		Conflicts: conflicts,
	}, nil
}

func (s *ScheduleService) buildEntry(ctx context.Context, req dto.ScheduleEntryRequest) (*models.ScheduleEntry, error) {
	return buildScheduleEntry(ctx, s.slots, s.validator, req)
}

// buildScheduleEntry normalises a request into a candidate entry with
// slot-resolved times. Unknown foreign keys and malformed values surface as
// field-level validation errors before any conflict detection runs.
func buildScheduleEntry(ctx context.Context, slots timeSlotReader, validate *validator.Validate, req dto.ScheduleEntryRequest) (*models.ScheduleEntry, error) {
	if err := validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule entry payload")
	}
	day, ok := models.ParseDayOfWeek(req.DayOfWeek)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown dayOfWeek %q", req.DayOfWeek))
	}
	entryType := models.EntryType(req.EntryType)
	if req.EntryType == "" {
		entryType = models.EntryTypeRegular
	}
	if !models.ValidEntryType(entryType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown entryType %q", req.EntryType))
	}

	slot, err := slots.FindByID(ctx, req.TimeSlotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time slot %s not found", req.TimeSlotID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slot")
	}

	entry := &models.ScheduleEntry{
		ID:         uuid.NewString(),
		BatchID:    req.BatchID,
		FacultyID:  req.FacultyID,
		TimeSlotID: slot.ID,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		DayOfWeek:  day,
		EntryType:  entryType,
		Active:     true,
	}
	if req.SubjectID != "" {
		subject := req.SubjectID
		entry.SubjectID = &subject
	}
	if req.OccursOn != "" {
		occurs, err := time.Parse(dateLayout, req.OccursOn)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "occursOn must be formatted YYYY-MM-DD")
		}
		if models.DayOfWeekFromTime(occurs) != day {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("occursOn %s is not a %s", req.OccursOn, day))
		}
		entry.OccursOn = &occurs
	}
	return entry, nil
}

// evaluationDate picks the calendar date conflicts are checked on: the
// occurrence date for date-specific entries, the next matching weekday for
// recurring templates. Always midnight UTC so it matches stored occurs_on
// dates by equality.
func evaluationDate(entry *models.ScheduleEntry) time.Time {
	if entry.OccursOn != nil {
		return *entry.OccursOn
	}
	date := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < 7; i++ {
		if models.DayOfWeekFromTime(date) == entry.DayOfWeek {
			return date
		}
		date = date.AddDate(0, 0, 1)
	}
	return date
}

// committedNeighbours loads the committed entries that could collide with
// the candidate: same batch or same faculty, active on the date. excludeID
// drops the entry itself on updates.
func (s *ScheduleService) committedNeighbours(ctx context.Context, entry *models.ScheduleEntry, date time.Time, excludeID string) ([]models.ScheduleEntry, error) {
	batchEntries, err := s.entries.FindActiveForBatchOnDate(ctx, entry.BatchID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch schedule")
	}
	facultyEntries, err := s.entries.FindActiveForFacultyOnDate(ctx, entry.FacultyID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty schedule")
	}

	seen := make(map[string]bool)
	merged := make([]models.ScheduleEntry, 0, len(batchEntries)+len(facultyEntries))
	for _, list := range [][]models.ScheduleEntry{batchEntries, facultyEntries} {
		for _, e := range list {
			if e.ID == excludeID || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	return merged, nil
}

func (s *ScheduleService) detectForCandidate(ctx context.Context, entry *models.ScheduleEntry, existing []models.ScheduleEntry, date time.Time) ([]models.ConflictReport, error) {
	dayCtx, err := s.dayContext(ctx, date)
	if err != nil {
		return nil, err
	}
	all := append(append([]models.ScheduleEntry{}, existing...), *entry)
	reports, err := s.detector.Detect(all, date, dayCtx)
	if err != nil {
		return nil, err
	}
	filtered := make([]models.ConflictReport, 0, len(reports))
	for _, report := range reports {
		if report.References(entry.ID) {
			filtered = append(filtered, report)
		}
	}
	return filtered, nil
}

func (s *ScheduleService) dayContext(ctx context.Context, date time.Time) (models.DayContext, error) {
	if s.calendar == nil {
		return models.DayContext{}, nil
	}
	dayCtx, err := s.calendar.DayContext(ctx, date)
	if err != nil {
		return models.DayContext{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar context")
	}
	return dayCtx, nil
}

// commitBlocked reports whether the conflicts stop a commit and whether an
// override could have helped. A batch double booking is never overridable.
func commitBlocked(conflicts []models.ConflictReport, override bool) (blocked, overridable bool) {
	overridable = true
	for _, report := range conflicts {
		if report.ConflictType == models.ConflictBatchDoubleBooking {
			return true, false
		}
		if report.Severity.Blocking() && !override {
			blocked = true
		}
	}
	if blocked {
		return true, true
	}
	return false, overridable
}
