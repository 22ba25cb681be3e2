package models

import (
	"fmt"
	"time"
)

// SlotState is the lifecycle state of a bookable 1-hour slot.
type SlotState string

const (
	SlotStateAvailable SlotState = "available"
	SlotStateHeld      SlotState = "held"
	SlotStateBooked    SlotState = "booked"
)

// slotTransitions enumerates the legal state machine edges:
// available→held (hold), held→available (release/expiry), held→booked
// (payment confirmation), booked→available (cancellation).
var slotTransitions = map[SlotState][]SlotState{
	SlotStateAvailable: {SlotStateHeld},
	SlotStateHeld:      {SlotStateAvailable, SlotStateBooked},
	SlotStateBooked:    {SlotStateAvailable},
}

// CanTransitionTo reports whether moving to next is a legal edge.
func (s SlotState) CanTransitionTo(next SlotState) bool {
	for _, allowed := range slotTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Slot is a 1-hour bookable time unit derived from an availability block.
// The (psychologist_id, slot_date, start_time) triple is unique; the row is
// the single unit of mutual exclusion in the whole system.
type Slot struct {
	ID                  int64      `db:"id" json:"id"`
	PsychologistID      string     `db:"psychologist_id" json:"psychologist_id"`
	AvailabilityBlockID string     `db:"availability_block_id" json:"availability_block_id"`
	SlotDate            time.Time  `db:"slot_date" json:"slot_date"`
	StartTime           string     `db:"start_time" json:"start_time"`
	EndTime             string     `db:"end_time" json:"end_time"`
	State               SlotState  `db:"state" json:"state"`
	HeldBy              *string    `db:"held_by" json:"held_by,omitempty"`
	HeldUntil           *time.Time `db:"held_until" json:"held_until,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// StartAt combines the slot date and start time into a point in time (UTC).
func (s *Slot) StartAt() time.Time {
	return combineDateClock(s.SlotDate, s.StartTime)
}

// EndAt combines the slot date and end time into a point in time (UTC).
func (s *Slot) EndAt() time.Time {
	return combineDateClock(s.SlotDate, s.EndTime)
}

// HeldByOther reports whether the slot carries a live hold owned by someone
// other than holder.
func (s *Slot) HeldByOther(holder string, now time.Time) bool {
	if s.State != SlotStateHeld || s.HeldBy == nil || s.HeldUntil == nil {
		return false
	}
	return *s.HeldBy != holder && s.HeldUntil.After(now)
}

// HoldExpired reports whether a hold on the slot has lapsed.
func (s *Slot) HoldExpired(now time.Time) bool {
	return s.State == SlotStateHeld && s.HeldUntil != nil && !s.HeldUntil.After(now)
}

// ParseClock parses an "HH:MM" wall-clock value.
func ParseClock(value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return t, nil
}

// NextHour returns the "HH:MM" value one hour after start. Slots never cross
// midnight, so an overflow past 23:00 yields ok=false.
func NextHour(start string) (string, bool) {
	t, err := ParseClock(start)
	if err != nil {
		return "", false
	}
	next := t.Add(time.Hour)
	if next.Day() != t.Day() {
		return "", false
	}
	return next.Format("15:04"), true
}

func combineDateClock(d time.Time, clock string) time.Time {
	t, err := ParseClock(clock)
	if err != nil {
		return time.Time{}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}
