package models

import "time"

// CalendarDayKind marks special academic calendar days.
type CalendarDayKind string

const (
	CalendarDayHoliday    CalendarDayKind = "HOLIDAY"
	CalendarDayExamPeriod CalendarDayKind = "EXAM_PERIOD"
)

// CalendarDay flags a calendar date as a holiday or part of an exam period.
type CalendarDay struct {
	ID        string          `db:"id" json:"id"`
	Date      time.Time       `db:"date" json:"date"`
	Kind      CalendarDayKind `db:"kind" json:"kind"`
	Label     string          `db:"label" json:"label"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// DayContext aggregates calendar facts the conflict detector needs for one
// date. Nil pointers mean an ordinary teaching day.
type DayContext struct {
	Holiday    *CalendarDay
	ExamPeriod *CalendarDay
}
