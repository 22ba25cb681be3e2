package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

const bookingColumns = `id, parent_id, child_id, psychologist_id, session_type, status, payment_status,
scheduled_start, scheduled_end, meeting_link, meeting_id, meeting_address, qr_verification_code,
session_verified_at, parent_notes, cancellation_reason, created_at, updated_at`

// BookingRepository persists bookings and their ordered slot attachments.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository builds the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the booking and one booking_slots row per attached slot,
// preserving timeline order via the position column.
func (r *BookingRepository) Create(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error {
	target := r.exec(exec)

	const insertBooking = `
INSERT INTO bookings (id, parent_id, child_id, psychologist_id, session_type, status, payment_status,
	scheduled_start, scheduled_end, meeting_link, meeting_id, meeting_address, qr_verification_code,
	parent_notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())`

	if _, err := target.ExecContext(ctx, insertBooking,
		booking.ID, booking.ParentID, booking.ChildID, booking.PsychologistID,
		booking.SessionType, booking.Status, booking.PaymentStatus,
		booking.ScheduledStart, booking.ScheduledEnd,
		booking.MeetingLink, booking.MeetingID, booking.MeetingAddress,
		booking.QRVerificationCode, booking.ParentNotes,
	); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	const insertSlot = `INSERT INTO booking_slots (booking_id, slot_id, position) VALUES ($1, $2, $3)`
	for i, slotID := range booking.SlotIDs {
		if _, err := target.ExecContext(ctx, insertSlot, booking.ID, slotID, i); err != nil {
			return fmt.Errorf("attach slot %d to booking %s: %w", slotID, booking.ID, err)
		}
	}
	return nil
}

// FindByID loads a booking with its slot IDs in position order.
func (r *BookingRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Booking, error) {
	target := r.exec(exec)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	var booking models.Booking
	if err := sqlx.GetContext(ctx, target, &booking, query, id); err != nil {
		return nil, err
	}
	if err := r.loadSlotIDs(ctx, target, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *BookingRepository) loadSlotIDs(ctx context.Context, target sqlx.ExtContext, booking *models.Booking) error {
	const query = `SELECT slot_id FROM booking_slots WHERE booking_id = $1 ORDER BY position ASC`
	if err := sqlx.SelectContext(ctx, target, &booking.SlotIDs, query, booking.ID); err != nil {
		return fmt.Errorf("load booking slots: %w", err)
	}
	return nil
}

// UpdateStatus sets the booking and payment status in one write.
func (r *BookingRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.BookingStatus, payment models.PaymentStatus) error {
	const query = `UPDATE bookings SET status = $1, payment_status = $2, updated_at = now() WHERE id = $3`
	if _, err := r.exec(exec).ExecContext(ctx, query, status, payment, id); err != nil {
		return fmt.Errorf("update booking %s status: %w", id, err)
	}
	return nil
}

// SetConfirmed marks a paid booking confirmed and stores the meeting details
// issued at confirmation time.
func (r *BookingRepository) SetConfirmed(ctx context.Context, exec sqlx.ExtContext, id string, meetingLink, meetingID *string) error {
	const query = `UPDATE bookings SET status = $1, payment_status = $2, meeting_link = $3, meeting_id = $4, updated_at = now() WHERE id = $5`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		models.BookingStatusConfirmed, models.PaymentStatusPaid, meetingLink, meetingID, id); err != nil {
		return fmt.Errorf("confirm booking %s: %w", id, err)
	}
	return nil
}

// SetCancelled records the cancellation with its reason.
func (r *BookingRepository) SetCancelled(ctx context.Context, exec sqlx.ExtContext, id string, payment models.PaymentStatus, reason string) error {
	const query = `UPDATE bookings SET status = 'cancelled', payment_status = $1, cancellation_reason = $2, updated_at = now() WHERE id = $3`
	if _, err := r.exec(exec).ExecContext(ctx, query, payment, reason, id); err != nil {
		return fmt.Errorf("cancel booking %s: %w", id, err)
	}
	return nil
}

// SetSessionVerified stamps the attendance verification time.
func (r *BookingRepository) SetSessionVerified(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	const query = `UPDATE bookings SET session_verified_at = $1, updated_at = now() WHERE id = $2`
	if _, err := r.exec(exec).ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("verify booking %s: %w", id, err)
	}
	return nil
}

// FindByQRCode resolves an in-person booking from its QR verification code.
func (r *BookingRepository) FindByQRCode(ctx context.Context, code string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE qr_verification_code = $1`
	var booking models.Booking
	if err := sqlx.GetContext(ctx, r.db, &booking, query, code); err != nil {
		return nil, err
	}
	if err := r.loadSlotIDs(ctx, r.db, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListUpcomingByParent returns the parent's future pending and confirmed
// bookings, soonest first.
func (r *BookingRepository) ListUpcomingByParent(ctx context.Context, parentID string, now time.Time, p models.Pagination) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
WHERE parent_id = $1 AND scheduled_start > $2 AND status IN ('payment_pending', 'confirmed')
ORDER BY scheduled_start ASC LIMIT $3 OFFSET $4`
	return r.listUpcoming(ctx, query, parentID, now, p)
}

// ListUpcomingByPsychologist returns the provider's future pending and
// confirmed bookings, soonest first.
func (r *BookingRepository) ListUpcomingByPsychologist(ctx context.Context, psychologistID string, now time.Time, p models.Pagination) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
WHERE psychologist_id = $1 AND scheduled_start > $2 AND status IN ('payment_pending', 'confirmed')
ORDER BY scheduled_start ASC LIMIT $3 OFFSET $4`
	return r.listUpcoming(ctx, query, psychologistID, now, p)
}

func (r *BookingRepository) listUpcoming(ctx context.Context, query, ownerID string, now time.Time, p models.Pagination) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.db, &bookings, query, ownerID, now, p.Limit(), p.Offset()); err != nil {
		return nil, fmt.Errorf("list upcoming bookings: %w", err)
	}
	for i := range bookings {
		if err := r.loadSlotIDs(ctx, r.db, &bookings[i]); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}
