package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
)

// pgLockNotAvailable is raised when SET LOCAL lock_timeout fires on a
// contended row.
const pgLockNotAvailable = "55P03"

// SlotStore is the slot persistence surface the engine drives.
type SlotStore interface {
	GetByPosition(ctx context.Context, psychologistID string, date time.Time, startTime string) (*models.Slot, error)
	GetByPositionForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID string, date time.Time, startTime string) (*models.Slot, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error
	RefreshHold(ctx context.Context, exec sqlx.ExtContext, slotID int64, holder string, until time.Time) error
	FindHeldByHolderForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID, holder string) ([]models.Slot, error)
	ReleaseHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64) (int64, error)
	ExtendHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64, extra time.Duration, now time.Time) (int64, error)
}

// TxManager runs a unit of work in one database transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

// ReservationConfig tunes hold TTLs and contention retries.
type ReservationConfig struct {
	HoldTTL     time.Duration
	LockRetries int
	ExtendBy    time.Duration
}

// ReservationService implements the hold/confirm/release core. All slot
// mutations happen inside transactions with rows locked in timeline order, so
// two competing reservations for overlapping slots serialise on the earliest
// shared slot instead of deadlocking.
type ReservationService struct {
	slots   SlotStore
	tx      TxManager
	cfg     ReservationConfig
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReservationService builds the engine.
func NewReservationService(slots SlotStore, tx TxManager, cfg ReservationConfig, metrics *Metrics, logger *zap.Logger) *ReservationService {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 30 * time.Minute
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 3
	}
	if cfg.ExtendBy <= 0 {
		cfg.ExtendBy = 15 * time.Minute
	}
	return &ReservationService{
		slots:   slots,
		tx:      tx,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HoldResult reports a successful hold.
type HoldResult struct {
	Slots     []models.Slot `json:"slots"`
	HeldUntil time.Time     `json:"held_until"`
}

// Hold reserves count consecutive slots starting at (date, startTime) for the
// holder. Slots are locked and transitioned front to back. A hold the holder
// already owns on one of the slots is refreshed rather than rejected, and an
// expired hold left by someone else is reclaimed inline.
func (s *ReservationService) Hold(ctx context.Context, holder, psychologistID string, date time.Time, startTime string, count int) (*HoldResult, error) {
	if count < 1 {
		count = 1
	}
	positions, err := consecutivePositions(startTime, count)
	if err != nil {
		return nil, err
	}

	var result *HoldResult
	attempt := func() error {
		now := s.now()
		heldUntil := now.Add(s.cfg.HoldTTL)
		return s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
			held := make([]models.Slot, 0, count)
			for i, pos := range positions {
				slot, err := s.slots.GetByPositionForUpdate(ctx, exec, psychologistID, date, pos)
				if err != nil {
					if errors.Is(err, sql.ErrNoRows) {
						if i == 0 {
							return appErrors.ErrSlotNotFound
						}
						return blockingSlotErr(date, pos, "does not exist")
					}
					return err
				}
				if err := s.holdSlot(ctx, exec, slot, holder, now, heldUntil); err != nil {
					if errors.Is(err, errSlotBlocked) {
						if i == 0 {
							return appErrors.ErrSlotUnavailable
						}
						return blockingSlotErr(date, pos, "is not available")
					}
					return err
				}
				slot.State = models.SlotStateHeld
				slot.HeldBy = &holder
				slot.HeldUntil = &heldUntil
				held = append(held, *slot)
			}
			result = &HoldResult{Slots: held, HeldUntil: heldUntil}
			return nil
		})
	}

	if err := s.withLockRetries(ctx, attempt); err != nil {
		s.countHold(err)
		return nil, err
	}
	s.countHold(nil)
	return result, nil
}

// errSlotBlocked marks a locked slot that cannot be taken; the hold loop maps
// it to the position-aware client rejection.
var errSlotBlocked = errors.New("slot blocked")

// holdSlot transitions one locked slot into the holder's hold.
func (s *ReservationService) holdSlot(ctx context.Context, exec sqlx.ExtContext, slot *models.Slot, holder string, now, heldUntil time.Time) error {
	switch {
	case slot.State == models.SlotStateAvailable:
		return s.slots.Transition(ctx, exec, slot.ID, models.SlotStateAvailable, models.SlotStateHeld, &holder, &heldUntil)

	case slot.State == models.SlotStateHeld && slot.HeldBy != nil && *slot.HeldBy == holder:
		// Re-entrant hold: the same holder retrying gets a fresh TTL.
		return s.slots.RefreshHold(ctx, exec, slot.ID, holder, heldUntil)

	case slot.HoldExpired(now):
		// Lapsed hold from another holder. Reclaim it, then take it.
		if err := s.slots.Transition(ctx, exec, slot.ID, models.SlotStateHeld, models.SlotStateAvailable, nil, nil); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SlotsReclaimed.Inc()
		}
		return s.slots.Transition(ctx, exec, slot.ID, models.SlotStateAvailable, models.SlotStateHeld, &holder, &heldUntil)

	default:
		return errSlotBlocked
	}
}

// blockingSlotErr reports which position broke a consecutive walk.
func blockingSlotErr(date time.Time, pos, why string) error {
	return appErrors.Clone(appErrors.ErrInsufficientConsecutive,
		fmt.Sprintf("slot %s %s %s", date.Format("2006-01-02"), pos, why))
}

// ConfirmResult reports the outcome of a confirmation attempt.
type ConfirmResult struct {
	Confirmed []models.Slot `json:"confirmed"`
	Expired   []int64       `json:"expired,omitempty"`
}

// Confirm promotes the holder's held slots to booked. Holds that expired
// before confirmation arrived are reclaimed instead of booked and reported in
// Expired so the caller can compensate.
func (s *ReservationService) Confirm(ctx context.Context, holder, psychologistID string) (*ConfirmResult, error) {
	var result *ConfirmResult
	attempt := func() error {
		now := s.now()
		return s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
			slots, err := s.slots.FindHeldByHolderForUpdate(ctx, exec, psychologistID, holder)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				return appErrors.ErrReservationNotFound
			}

			res := &ConfirmResult{}
			for i := range slots {
				slot := &slots[i]
				if slot.HoldExpired(now) {
					if err := s.slots.Transition(ctx, exec, slot.ID, models.SlotStateHeld, models.SlotStateAvailable, nil, nil); err != nil {
						return err
					}
					if s.metrics != nil {
						s.metrics.SlotsReclaimed.Inc()
					}
					res.Expired = append(res.Expired, slot.ID)
					continue
				}
				if err := s.slots.Transition(ctx, exec, slot.ID, models.SlotStateHeld, models.SlotStateBooked, nil, nil); err != nil {
					return err
				}
				slot.State = models.SlotStateBooked
				slot.HeldBy = nil
				slot.HeldUntil = nil
				res.Confirmed = append(res.Confirmed, *slot)
			}
			result = res
			return nil
		})
	}

	if err := s.withLockRetries(ctx, attempt); err != nil {
		return nil, err
	}
	return result, nil
}

// Release drops the holder's holds for the psychologist and returns the
// number of slots released. Releasing a hold that no longer exists is a no-op.
func (s *ReservationService) Release(ctx context.Context, holder, psychologistID string) (int64, error) {
	var released int64
	attempt := func() error {
		return s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
			slots, err := s.slots.FindHeldByHolderForUpdate(ctx, exec, psychologistID, holder)
			if err != nil {
				return err
			}
			ids := slotIDs(slots)
			released, err = s.slots.ReleaseHeld(ctx, exec, holder, ids)
			return err
		})
	}
	if err := s.withLockRetries(ctx, attempt); err != nil {
		return 0, err
	}
	return released, nil
}

// ExtendHold pushes out the holder's live hold expiry by the configured
// amount and returns the number of slots extended.
func (s *ReservationService) ExtendHold(ctx context.Context, holder, psychologistID string) (int64, error) {
	var extended int64
	attempt := func() error {
		now := s.now()
		return s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
			slots, err := s.slots.FindHeldByHolderForUpdate(ctx, exec, psychologistID, holder)
			if err != nil {
				return err
			}
			live := make([]int64, 0, len(slots))
			for i := range slots {
				if !slots[i].HoldExpired(now) {
					live = append(live, slots[i].ID)
				}
			}
			if len(live) == 0 {
				return appErrors.ErrReservationNotFound
			}
			extended, err = s.slots.ExtendHeld(ctx, exec, holder, live, s.cfg.ExtendBy, now)
			return err
		})
	}
	if err := s.withLockRetries(ctx, attempt); err != nil {
		return 0, err
	}
	return extended, nil
}

// CheckAvailability reports, without taking any lock, whether count
// consecutive slots starting at (date, startTime) could be held right now.
// Expired holds count as available since a hold attempt would reclaim them.
func (s *ReservationService) CheckAvailability(ctx context.Context, psychologistID string, date time.Time, startTime string, count int) (bool, []models.Slot, error) {
	if count < 1 {
		count = 1
	}
	positions, err := consecutivePositions(startTime, count)
	if err != nil {
		return false, nil, err
	}

	now := s.now()
	matched := make([]models.Slot, 0, count)
	for _, pos := range positions {
		slot, err := s.slots.GetByPosition(ctx, psychologistID, date, pos)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil, nil
			}
			return false, nil, err
		}
		if slot.State != models.SlotStateAvailable && !slot.HoldExpired(now) {
			return false, nil, nil
		}
		matched = append(matched, *slot)
	}
	return true, matched, nil
}

// withLockRetries retries fn when it fails on row-lock contention, with a
// jittered backoff between attempts. Domain rejections pass through verbatim.
func (s *ReservationService) withLockRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.LockRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(50+rand.Intn(100)) * time.Millisecond //nolint:gosec
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if s.logger != nil {
				s.logger.Warn("retrying after lock contention",
					zap.Int("attempt", attempt),
					zap.Error(lastErr))
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isLockTimeout(err) {
			return err
		}
		lastErr = err
	}
	return appErrors.Wrap(lastErr, appErrors.ErrReservationFailed.Code, appErrors.ErrReservationFailed.Status, appErrors.ErrReservationFailed.Message)
}

func (s *ReservationService) countHold(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.HoldAttempts.WithLabelValues(HoldResultOK).Inc()
	case appErrors.HasCode(err, appErrors.ErrReservationFailed):
		s.metrics.HoldAttempts.WithLabelValues(HoldResultFailed).Inc()
	case appErrors.HasCode(err, appErrors.ErrLockTimeout):
		s.metrics.HoldAttempts.WithLabelValues(HoldResultTimeout).Inc()
	case appErrors.HasCode(err, appErrors.ErrSlotUnavailable),
		appErrors.HasCode(err, appErrors.ErrInsufficientConsecutive),
		appErrors.HasCode(err, appErrors.ErrSlotNotFound):
		s.metrics.HoldAttempts.WithLabelValues(HoldResultConflict).Inc()
	default:
		s.metrics.HoldAttempts.WithLabelValues(HoldResultFailed).Inc()
	}
}

// isLockTimeout reports whether err is Postgres lock_timeout expiry.
func isLockTimeout(err error) bool {
	if appErrors.HasCode(err, appErrors.ErrLockTimeout) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgLockNotAvailable
}

// consecutivePositions expands a start time into count hourly "HH:MM" values.
func consecutivePositions(startTime string, count int) ([]string, error) {
	if _, err := models.ParseClock(startTime); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid start time %q", startTime))
	}
	positions := make([]string, 0, count)
	current := startTime
	for i := 0; i < count; i++ {
		positions = append(positions, current)
		if i == count-1 {
			break
		}
		next, ok := models.NextHour(current)
		if !ok {
			return nil, appErrors.ErrInsufficientConsecutive
		}
		current = next
	}
	return positions, nil
}

func slotIDs(slots []models.Slot) []int64 {
	ids := make([]int64, 0, len(slots))
	for i := range slots {
		ids = append(ids, slots[i].ID)
	}
	return ids
}
