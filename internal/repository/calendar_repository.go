package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
)

// CalendarRepository reads academic calendar facts (holidays, exam periods).
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// DayContext resolves the calendar context for one date.
func (r *CalendarRepository) DayContext(ctx context.Context, date time.Time) (models.DayContext, error) {
	const query = `SELECT id, date, kind, label, created_at FROM calendar_days WHERE date = $1`
	var days []models.CalendarDay
	if err := r.db.SelectContext(ctx, &days, query, date); err != nil {
		return models.DayContext{}, fmt.Errorf("load calendar day: %w", err)
	}

	var dayCtx models.DayContext
	for i := range days {
		switch days[i].Kind {
		case models.CalendarDayHoliday:
			dayCtx.Holiday = &days[i]
		case models.CalendarDayExamPeriod:
			dayCtx.ExamPeriod = &days[i]
		}
	}
	return dayCtx, nil
}
