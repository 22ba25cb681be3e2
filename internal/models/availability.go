package models

import (
	"time"
)

// AvailabilityBlock is a psychologist's declared open window, either weekly
// recurring (day_of_week set) or one-off (specific_date set). Exactly one of
// the two is present, matching the recurring flag.
type AvailabilityBlock struct {
	ID             string     `db:"id" json:"id"`
	PsychologistID string     `db:"psychologist_id" json:"psychologist_id"`
	IsRecurring    bool       `db:"is_recurring" json:"is_recurring"`
	DayOfWeek      *int       `db:"day_of_week" json:"day_of_week,omitempty"`
	SpecificDate   *time.Time `db:"specific_date" json:"specific_date,omitempty"`
	StartTime      string     `db:"start_time" json:"start_time"`
	EndTime        string     `db:"end_time" json:"end_time"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// UpsertAvailabilityRequest is the payload for creating or updating a block.
type UpsertAvailabilityRequest struct {
	IsRecurring  bool   `json:"is_recurring"`
	DayOfWeek    *int   `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	SpecificDate string `json:"specific_date" validate:"omitempty,datetime=2006-01-02"`
	StartTime    string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime      string `json:"end_time" validate:"required,datetime=15:04"`
}

// Hours returns the whole number of 1-hour sub-units the window spans.
func (b *AvailabilityBlock) Hours() int {
	start, err1 := ParseClock(b.StartTime)
	end, err2 := ParseClock(b.EndTime)
	if err1 != nil || err2 != nil || !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Hour)
}

// WholeHours reports whether the window splits exactly into 1-hour sub-units.
func (b *AvailabilityBlock) WholeHours() bool {
	start, err1 := ParseClock(b.StartTime)
	end, err2 := ParseClock(b.EndTime)
	if err1 != nil || err2 != nil || !end.After(start) {
		return false
	}
	return end.Sub(start)%time.Hour == 0
}

// MatchesDate reports whether the block produces slots on the given date.
func (b *AvailabilityBlock) MatchesDate(d time.Time) bool {
	if b.IsRecurring {
		return b.DayOfWeek != nil && int(d.Weekday()) == *b.DayOfWeek
	}
	return b.SpecificDate != nil && sameDate(*b.SpecificDate, d)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
