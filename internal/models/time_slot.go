package models

import "time"

// TimeSlot is a named, ordered interval of the teaching day shared across
// all batches (e.g. "09:30-10:30").
type TimeSlot struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
