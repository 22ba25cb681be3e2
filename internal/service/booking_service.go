package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
)

// BookingStore is the booking persistence surface.
type BookingStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, booking *models.Booking) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Booking, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.BookingStatus, payment models.PaymentStatus) error
	SetConfirmed(ctx context.Context, exec sqlx.ExtContext, id string, meetingLink, meetingID *string) error
	SetCancelled(ctx context.Context, exec sqlx.ExtContext, id string, payment models.PaymentStatus, reason string) error
	SetSessionVerified(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error
	FindByQRCode(ctx context.Context, code string) (*models.Booking, error)
	ListUpcomingByParent(ctx context.Context, parentID string, now time.Time, p models.Pagination) ([]models.Booking, error)
	ListUpcomingByPsychologist(ctx context.Context, psychologistID string, now time.Time, p models.Pagination) ([]models.Booking, error)
}

// ReservationEngine is the hold/confirm/release core the facade drives.
type ReservationEngine interface {
	Hold(ctx context.Context, holder, psychologistID string, date time.Time, startTime string, count int) (*HoldResult, error)
	Confirm(ctx context.Context, holder, psychologistID string) (*ConfirmResult, error)
	Release(ctx context.Context, holder, psychologistID string) (int64, error)
}

// ProfileStore reads the child and provider records booking validates.
type ProfileStore interface {
	FindChild(ctx context.Context, id string) (*models.Child, error)
	FindPsychologist(ctx context.Context, id string) (*models.Psychologist, error)
}

// BookingSlotStore covers the slot operations booking lifecycle changes need
// outside the reservation engine.
type BookingSlotStore interface {
	Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error
	ReleaseHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64) (int64, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.Slot, error)
}

// BookingService orchestrates the full booking lifecycle on top of the
// reservation engine: request (hold + pending booking), payment callbacks
// (confirm or release), cancellation, completion and attendance verification.
type BookingService struct {
	bookings BookingStore
	engine   ReservationEngine
	profiles ProfileStore
	slots    BookingSlotStore
	tx       TxManager
	validate *validator.Validate
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewBookingService builds the facade.
func NewBookingService(bookings BookingStore, engine ReservationEngine, profiles ProfileStore, slots BookingSlotStore, tx TxManager, metrics *Metrics, logger *zap.Logger) *BookingService {
	return &BookingService{
		bookings: bookings,
		engine:   engine,
		profiles: profiles,
		slots:    slots,
		tx:       tx,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestBooking validates the request, holds the needed slots and records a
// payment_pending booking. The hold TTL is the payment window.
func (s *BookingService) RequestBooking(ctx context.Context, actor models.Actor, req *models.CreateBookingRequest) (*models.Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}

	child, err := s.profiles.FindChild(ctx, req.ChildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "child not found")
		}
		return nil, err
	}
	if child.ParentID != actor.ID {
		return nil, appErrors.ErrChildNotOwnedByRequester
	}

	provider, err := s.profiles.FindPsychologist(ctx, req.PsychologistID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "psychologist not found")
		}
		return nil, err
	}
	if !provider.MarketplaceVisible {
		return nil, appErrors.ErrProviderNotBookable
	}
	if !s.offersSessionType(provider, req.SessionType) {
		return nil, appErrors.ErrSessionTypeNotOffered
	}

	hold, err := s.engine.Hold(ctx, actor.ID, req.PsychologistID, date, req.StartTime, req.SessionType.SlotsNeeded())
	if err != nil {
		return nil, err
	}

	booking := s.buildBooking(actor.ID, provider, req, hold)
	if err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		return s.bookings.Create(ctx, exec, booking)
	}); err != nil {
		// The hold would otherwise sit until the sweeper reclaims it.
		if _, relErr := s.engine.Release(ctx, actor.ID, req.PsychologistID); relErr != nil {
			s.logger.Error("failed to release hold after booking insert failure",
				zap.String("parent_id", actor.ID),
				zap.Error(relErr))
		}
		return nil, err
	}

	s.logger.Info("booking requested",
		zap.String("booking_id", booking.ID),
		zap.String("parent_id", actor.ID),
		zap.String("psychologist_id", req.PsychologistID),
		zap.String("session_type", string(req.SessionType)),
		zap.Time("held_until", hold.HeldUntil))
	return booking, nil
}

func (s *BookingService) buildBooking(parentID string, provider *models.Psychologist, req *models.CreateBookingRequest, hold *HoldResult) *models.Booking {
	first := hold.Slots[0]
	last := hold.Slots[len(hold.Slots)-1]

	booking := &models.Booking{
		ID:             uuid.NewString(),
		ParentID:       parentID,
		ChildID:        req.ChildID,
		PsychologistID: req.PsychologistID,
		SessionType:    req.SessionType,
		Status:         models.BookingStatusPendingPayment,
		PaymentStatus:  models.PaymentStatusPending,
		ScheduledStart: first.StartAt(),
		ScheduledEnd:   last.EndAt(),
		ParentNotes:    req.ParentNotes,
		SlotIDs:        make([]int64, 0, len(hold.Slots)),
	}
	for _, slot := range hold.Slots {
		booking.SlotIDs = append(booking.SlotIDs, slot.ID)
	}

	if req.SessionType == models.SessionInitialConsultation {
		code := uuid.NewString()
		booking.QRVerificationCode = &code
		booking.MeetingAddress = provider.OfficeAddress
	}
	return booking
}

func (s *BookingService) offersSessionType(p *models.Psychologist, t models.SessionType) bool {
	switch t {
	case models.SessionOnlineMeeting:
		return p.OffersOnlineSessions
	case models.SessionInitialConsultation:
		return p.OffersInitialConsultation
	default:
		return false
	}
}

// OnPaymentSucceeded confirms the booking's held slots. The callback is
// idempotent: a booking already confirmed returns as-is, and one already
// cancelled stays cancelled so the payment can be refunded upstream. If part
// of the hold expired before the callback arrived, the whole booking is
// cancelled and any just-confirmed slots are released again.
func (s *BookingService) OnPaymentSucceeded(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusConfirmed:
		return booking, nil
	case models.BookingStatusCancelled:
		return booking, nil
	case models.BookingStatusPendingPayment:
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("booking is %s", booking.Status))
	}

	result, err := s.engine.Confirm(ctx, booking.ParentID, booking.PsychologistID)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrReservationNotFound) {
			return s.compensate(ctx, booking, nil)
		}
		return nil, err
	}
	// Confirm is keyed by (holder, psychologist), so the confirmed set must
	// be rechecked against this booking's slots. Anything short of an exact
	// match means an expired or foreign hold and the booking cannot stand.
	if len(result.Expired) > 0 || len(result.Confirmed) != len(booking.SlotIDs) {
		return s.compensate(ctx, booking, result.Confirmed)
	}

	if booking.SessionType == models.SessionOnlineMeeting {
		meetingID := uuid.NewString()
		link := fmt.Sprintf("https://meet.discova.io/%s", meetingID)
		booking.MeetingID = &meetingID
		booking.MeetingLink = &link
	}

	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		return s.bookings.SetConfirmed(ctx, exec, booking.ID, booking.MeetingLink, booking.MeetingID)
	})
	if err != nil {
		return nil, fmt.Errorf("confirm booking %s: %w", booking.ID, err)
	}

	booking.Status = models.BookingStatusConfirmed
	booking.PaymentStatus = models.PaymentStatusPaid
	s.logger.Info("booking confirmed", zap.String("booking_id", booking.ID))
	return booking, nil
}

// compensate cancels a booking whose hold (partially) expired before payment
// confirmation landed, returning any slots that did get booked.
func (s *BookingService) compensate(ctx context.Context, booking *models.Booking, confirmed []models.Slot) (*models.Booking, error) {
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		for _, slot := range confirmed {
			if err := s.slots.Transition(ctx, exec, slot.ID, models.SlotStateBooked, models.SlotStateAvailable, nil, nil); err != nil {
				return err
			}
		}
		return s.bookings.SetCancelled(ctx, exec, booking.ID, models.PaymentStatusRefunded, "hold expired before payment confirmation")
	})
	if err != nil {
		return nil, fmt.Errorf("compensate booking %s: %w", booking.ID, err)
	}

	if s.metrics != nil {
		s.metrics.Compensations.Inc()
	}
	s.logger.Warn("booking compensated",
		zap.String("booking_id", booking.ID),
		zap.Int("released_slots", len(confirmed)))

	booking.Status = models.BookingStatusCancelled
	booking.PaymentStatus = models.PaymentStatusRefunded
	booking.CancellationReason = "hold expired before payment confirmation"
	return booking, nil
}

// OnPaymentFailedOrExpired releases the booking's holds and cancels it.
// Idempotent: repeated callbacks and callbacks racing the sweeper both end in
// the same cancelled state.
func (s *BookingService) OnPaymentFailedOrExpired(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCancelled {
		return booking, nil
	}
	if booking.Status != models.BookingStatusPendingPayment {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("booking is %s", booking.Status))
	}

	if _, err := s.engine.Release(ctx, booking.ParentID, booking.PsychologistID); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		return s.bookings.SetCancelled(ctx, exec, booking.ID, models.PaymentStatusFailed, "payment failed or expired")
	})
	if err != nil {
		return nil, err
	}

	booking.Status = models.BookingStatusCancelled
	booking.PaymentStatus = models.PaymentStatusFailed
	booking.CancellationReason = "payment failed or expired"
	s.logger.Info("booking cancelled on failed payment", zap.String("booking_id", booking.ID))
	return booking, nil
}

// Cancel cancels an upcoming booking on behalf of its parent, its provider
// or an admin, releasing the attached slots.
func (s *BookingService) Cancel(ctx context.Context, actor models.Actor, bookingID, reason string) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParty(actor, booking); err != nil {
		return nil, err
	}
	now := s.now()
	if !booking.CanBeCancelled(now) {
		return nil, appErrors.ErrBookingNotCancellable
	}

	payment := booking.PaymentStatus
	if payment == models.PaymentStatusPaid {
		payment = models.PaymentStatusRefunded
	}

	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		if booking.Status == models.BookingStatusConfirmed {
			for _, slotID := range booking.SlotIDs {
				if err := s.slots.Transition(ctx, exec, slotID, models.SlotStateBooked, models.SlotStateAvailable, nil, nil); err != nil {
					return err
				}
			}
		} else {
			if _, err := s.slots.ReleaseHeld(ctx, exec, booking.ParentID, booking.SlotIDs); err != nil {
				return err
			}
		}
		return s.bookings.SetCancelled(ctx, exec, booking.ID, payment, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel booking %s: %w", booking.ID, err)
	}

	booking.Status = models.BookingStatusCancelled
	booking.PaymentStatus = payment
	booking.CancellationReason = reason
	s.logger.Info("booking cancelled",
		zap.String("booking_id", booking.ID),
		zap.String("by", actor.ID))
	return booking, nil
}

// Complete marks a confirmed booking as completed after its scheduled end.
func (s *BookingService) Complete(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error) {
	return s.finish(ctx, actor, bookingID, models.BookingStatusCompleted)
}

// MarkNoShow marks a confirmed booking as a no-show after its scheduled end.
func (s *BookingService) MarkNoShow(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error) {
	return s.finish(ctx, actor, bookingID, models.BookingStatusNoShow)
}

func (s *BookingService) finish(ctx context.Context, actor models.Actor, bookingID string, status models.BookingStatus) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && booking.PsychologistID != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	if booking.Status != models.BookingStatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("booking is %s", booking.Status))
	}
	if s.now().Before(booking.ScheduledEnd) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session has not ended yet")
	}

	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		return s.bookings.UpdateStatus(ctx, exec, booking.ID, status, booking.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}
	booking.Status = status
	return booking, nil
}

// VerifySession validates an in-person session's QR code, stamping attendance
// when scanned within the verification window.
func (s *BookingService) VerifySession(ctx context.Context, actor models.Actor, code string) (*models.Booking, error) {
	booking, err := s.bookings.FindByQRCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no booking matches this code")
		}
		return nil, err
	}
	if actor.Role != models.RoleAdmin && booking.PsychologistID != actor.ID {
		return nil, appErrors.ErrForbidden
	}

	now := s.now()
	if !booking.CanBeVerified(now) {
		return nil, appErrors.ErrSessionNotVerifiable
	}

	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		return s.bookings.SetSessionVerified(ctx, exec, booking.ID, now)
	})
	if err != nil {
		return nil, err
	}
	booking.SessionVerifiedAt = &now
	s.logger.Info("session verified", zap.String("booking_id", booking.ID))
	return booking, nil
}

// GetBooking loads a booking the actor is a party to.
func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, nil, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, err
	}
	if err := s.authorizeParty(actor, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// ListUpcoming returns the actor's future bookings.
func (s *BookingService) ListUpcoming(ctx context.Context, actor models.Actor, p models.Pagination) ([]models.Booking, error) {
	now := s.now()
	switch actor.Role {
	case models.RolePsychologist:
		return s.bookings.ListUpcomingByPsychologist(ctx, actor.ID, now, p)
	default:
		return s.bookings.ListUpcomingByParent(ctx, actor.ID, now, p)
	}
}

func (s *BookingService) authorizeParty(actor models.Actor, booking *models.Booking) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if booking.ParentID == actor.ID || booking.PsychologistID == actor.ID {
		return nil
	}
	return appErrors.ErrForbidden
}

func (s *BookingService) loadBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, nil, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, err
	}
	return booking, nil
}
