package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

const scheduleEntryColumns = "id, batch_id, faculty_id, subject_id, time_slot_id, start_time, end_time, day_of_week, occurs_on, entry_type, active, created_at, updated_at"

// ScheduleEntryRepository provides persistence for schedule entries.
type ScheduleEntryRepository struct {
	db *sqlx.DB
}

// NewScheduleEntryRepository creates a new schedule entry repository.
func NewScheduleEntryRepository(db *sqlx.DB) *ScheduleEntryRepository {
	return &ScheduleEntryRepository{db: db}
}

// List returns entries with optional filtering and pagination.
func (r *ScheduleEntryRepository) List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntry, int, error) {
	base := "FROM schedule_entries WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)+1))
		args = append(args, filter.BatchID)
	}
	if filter.FacultyID != "" {
		conditions = append(conditions, fmt.Sprintf("faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.DayOfWeek != "" {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}
	if filter.EntryType != "" {
		conditions = append(conditions, fmt.Sprintf("entry_type = $%d", len(args)+1))
		args = append(args, filter.EntryType)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"day_of_week": true,
		"start_time":  true,
		"batch_id":    true,
		"created_at":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "day_of_week"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, start_time ASC LIMIT %d OFFSET %d", scheduleEntryColumns, base, sortBy, order, size, offset)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule entries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule entries: %w", err)
	}

	return entries, total, nil
}

// FindByID loads an entry by id.
func (r *ScheduleEntryRepository) FindByID(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_entries WHERE id = $1", scheduleEntryColumns)
	var entry models.ScheduleEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindActiveOnDate returns active entries that may occur on the given date:
// date-specific occurrences for that day plus recurring templates whose
// weekday matches. Indexed on (batch_id, day_of_week) and (occurs_on).
func (r *ScheduleEntryRepository) FindActiveOnDate(ctx context.Context, date time.Time) ([]models.ScheduleEntry, error) {
	day := models.DayOfWeekFromTime(date)
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE active = TRUE AND (occurs_on = $1 OR (occurs_on IS NULL AND day_of_week = $2)) ORDER BY start_time ASC`, scheduleEntryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, date, day); err != nil {
		return nil, fmt.Errorf("find entries active on date: %w", err)
	}
	return entries, nil
}

// FindActiveForBatchOnDate narrows FindActiveOnDate to one batch.
func (r *ScheduleEntryRepository) FindActiveForBatchOnDate(ctx context.Context, batchID string, date time.Time) ([]models.ScheduleEntry, error) {
	day := models.DayOfWeekFromTime(date)
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE active = TRUE AND batch_id = $1 AND (occurs_on = $2 OR (occurs_on IS NULL AND day_of_week = $3)) ORDER BY start_time ASC`, scheduleEntryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, batchID, date, day); err != nil {
		return nil, fmt.Errorf("find batch entries on date: %w", err)
	}
	return entries, nil
}

// FindActiveForFacultyOnDate narrows FindActiveOnDate to one faculty member.
func (r *ScheduleEntryRepository) FindActiveForFacultyOnDate(ctx context.Context, facultyID string, date time.Time) ([]models.ScheduleEntry, error) {
	day := models.DayOfWeekFromTime(date)
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE active = TRUE AND faculty_id = $1 AND (occurs_on = $2 OR (occurs_on IS NULL AND day_of_week = $3)) ORDER BY start_time ASC`, scheduleEntryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, facultyID, date, day); err != nil {
		return nil, fmt.Errorf("find faculty entries on date: %w", err)
	}
	return entries, nil
}

// Create stores a new entry. The partial unique index on the booking key is
// the concurrency backstop: a concurrent exact duplicate is silently skipped
// and reported via the returned flag rather than surfacing as an error.
func (r *ScheduleEntryRepository) Create(ctx context.Context, entry *models.ScheduleEntry) (bool, error) {
	return r.create(ctx, r.db, entry)
}

// CreateTx stores a new entry using an existing transaction.
func (r *ScheduleEntryRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.ScheduleEntry) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("nil transaction provided")
	}
	return r.create(ctx, tx, entry)
}

func (r *ScheduleEntryRepository) create(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	const query = `INSERT INTO schedule_entries (id, batch_id, faculty_id, subject_id, time_slot_id, start_time, end_time, day_of_week, occurs_on, entry_type, active, created_at, updated_at)
VALUES (:id, :batch_id, :faculty_id, :subject_id, :time_slot_id, :start_time, :end_time, :day_of_week, :occurs_on, :entry_type, :active, :created_at, :updated_at)
ON CONFLICT DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, exec, query, entry)
	if err != nil {
		return false, fmt.Errorf("create schedule entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create schedule entry rows: %w", err)
	}
	return affected > 0, nil
}

// Update modifies an entry record.
func (r *ScheduleEntryRepository) Update(ctx context.Context, entry *models.ScheduleEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_entries SET batch_id = :batch_id, faculty_id = :faculty_id, subject_id = :subject_id, time_slot_id = :time_slot_id, start_time = :start_time, end_time = :end_time, day_of_week = :day_of_week, occurs_on = :occurs_on, entry_type = :entry_type, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("update schedule entry: %w", err)
	}
	return nil
}

// Deactivate soft-deletes an entry; rows are never hard-deleted while
// attendance or audit records may still reference them.
func (r *ScheduleEntryRepository) Deactivate(ctx context.Context, id string) error {
	return r.deactivate(ctx, r.db, id)
}

// DeactivateTx soft-deletes an entry within an existing transaction.
func (r *ScheduleEntryRepository) DeactivateTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	return r.deactivate(ctx, tx, id)
}

func (r *ScheduleEntryRepository) deactivate(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := exec.ExecContext(ctx, `UPDATE schedule_entries SET active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate schedule entry: %w", err)
	}
	return nil
}
