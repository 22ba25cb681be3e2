package models

import (
	"time"
)

// SessionType distinguishes the two bookable session kinds.
type SessionType string

const (
	// SessionOnlineMeeting is a 1-hour online session (1 slot).
	SessionOnlineMeeting SessionType = "OnlineMeeting"
	// SessionInitialConsultation is a 2-hour in-person consultation
	// (2 consecutive slots).
	SessionInitialConsultation SessionType = "InitialConsultation"
)

// Valid reports whether the session type is known.
func (t SessionType) Valid() bool {
	return t == SessionOnlineMeeting || t == SessionInitialConsultation
}

// SlotsNeeded returns the number of consecutive slots the session occupies.
func (t SessionType) SlotsNeeded() int {
	if t == SessionInitialConsultation {
		return 2
	}
	return 1
}

// BookingStatus is the booking lifecycle state.
type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "payment_pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusNoShow         BookingStatus = "no_show"
)

// PaymentStatus tracks the external payment outcome for a booking.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Booking is the durable record of a pending or confirmed session. SlotIDs is
// ordered by timeline position and its length always matches the session
// type (1 or 2 consecutive slots).
type Booking struct {
	ID                 string        `db:"id" json:"id"`
	ParentID           string        `db:"parent_id" json:"parent_id"`
	ChildID            string        `db:"child_id" json:"child_id"`
	PsychologistID     string        `db:"psychologist_id" json:"psychologist_id"`
	SessionType        SessionType   `db:"session_type" json:"session_type"`
	Status             BookingStatus `db:"status" json:"status"`
	PaymentStatus      PaymentStatus `db:"payment_status" json:"payment_status"`
	ScheduledStart     time.Time     `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd       time.Time     `db:"scheduled_end" json:"scheduled_end"`
	MeetingLink        *string       `db:"meeting_link" json:"meeting_link,omitempty"`
	MeetingID          *string       `db:"meeting_id" json:"meeting_id,omitempty"`
	MeetingAddress     string        `db:"meeting_address" json:"meeting_address,omitempty"`
	QRVerificationCode *string       `db:"qr_verification_code" json:"qr_verification_code,omitempty"`
	SessionVerifiedAt  *time.Time    `db:"session_verified_at" json:"session_verified_at,omitempty"`
	ParentNotes        string        `db:"parent_notes" json:"parent_notes,omitempty"`
	CancellationReason string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`

	SlotIDs []int64 `db:"-" json:"slot_ids"`
}

// CreateBookingRequest is the booking creation payload.
type CreateBookingRequest struct {
	ChildID        string      `json:"child_id" validate:"required,uuid4"`
	PsychologistID string      `json:"psychologist_id" validate:"required,uuid4"`
	SessionType    SessionType `json:"session_type" validate:"required,oneof=OnlineMeeting InitialConsultation"`
	Date           string      `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime      string      `json:"start_time" validate:"required,datetime=15:04"`
	ParentNotes    string      `json:"parent_notes" validate:"max=2000"`
}

// CancelBookingRequest carries the cancellation reason.
type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// VerifySessionRequest carries the scanned QR code.
type VerifySessionRequest struct {
	Code string `json:"code" validate:"required"`
}

// IsUpcoming reports whether the booking has not started yet.
func (b *Booking) IsUpcoming(now time.Time) bool {
	return b.ScheduledStart.After(now)
}

// CanBeCancelled gates the cancellation path: only pending/confirmed
// bookings, and strictly before the scheduled start.
func (b *Booking) CanBeCancelled(now time.Time) bool {
	if b.Status != BookingStatusPendingPayment && b.Status != BookingStatusConfirmed {
		return false
	}
	return b.IsUpcoming(now)
}

// CanBeVerified gates QR attendance verification: in-person confirmed
// sessions within 30 minutes of the scheduled start, not yet verified.
func (b *Booking) CanBeVerified(now time.Time) bool {
	if b.SessionType != SessionInitialConsultation || b.Status != BookingStatusConfirmed {
		return false
	}
	if b.SessionVerifiedAt != nil {
		return false
	}
	delta := now.Sub(b.ScheduledStart)
	if delta < 0 {
		delta = -delta
	}
	return delta <= 30*time.Minute
}
