package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
)

const slotColumns = `id, psychologist_id, availability_block_id, slot_date, start_time, end_time, state, held_by, held_until, created_at, updated_at`

// SlotRepository is the authoritative store for slot rows. Every state
// transition in the system goes through Transition, and every multi-row lock
// path orders rows ascending by (slot_date, start_time) so concurrent units
// of work acquire locks in one total order.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository builds the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// GetByID loads a slot without locking it.
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`
	var slot models.Slot
	if err := sqlx.GetContext(ctx, r.db, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetForUpdate locks a slot row for the duration of the transaction.
func (r *SlotRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`
	var slot models.Slot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetByPosition loads a slot by its unique provider-timeline position.
func (r *SlotRepository) GetByPosition(ctx context.Context, psychologistID string, date time.Time, startTime string) (*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE psychologist_id = $1 AND slot_date = $2 AND start_time = $3`
	var slot models.Slot
	if err := sqlx.GetContext(ctx, r.db, &slot, query, psychologistID, date, startTime); err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetByPositionForUpdate locks the slot at the given timeline position.
func (r *SlotRepository) GetByPositionForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID string, date time.Time, startTime string) (*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE psychologist_id = $1 AND slot_date = $2 AND start_time = $3 FOR UPDATE`
	var slot models.Slot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, psychologistID, date, startTime); err != nil {
		return nil, err
	}
	return &slot, nil
}

// Transition moves a slot between lifecycle states. The UPDATE is guarded by
// the expected current state, so a row changed since it was read yields zero
// affected rows and the transition fails rather than silently overwriting.
func (r *SlotRepository) Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error {
	if !from.CanTransitionTo(to) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("slot %d: %s -> %s is not a legal transition", slotID, from, to))
	}

	const query = `UPDATE slots SET state = $1, held_by = $2, held_until = $3, updated_at = now() WHERE id = $4 AND state = $5`
	res, err := r.exec(exec).ExecContext(ctx, query, to, heldBy, heldUntil, slotID, from)
	if err != nil {
		return fmt.Errorf("transition slot %d: %w", slotID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition slot %d: %w", slotID, err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("slot %d is no longer in state %s", slotID, from))
	}
	return nil
}

// FindHeldByHolderForUpdate locks every slot the holder currently holds for
// the psychologist, in timeline order. Expired holds are included; callers
// decide whether to confirm, refresh or reclaim each one.
func (r *SlotRepository) FindHeldByHolderForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID, holder string) ([]models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots
WHERE psychologist_id = $1 AND held_by = $2 AND state = 'held'
ORDER BY slot_date ASC, start_time ASC FOR UPDATE`
	var slots []models.Slot
	if err := sqlx.SelectContext(ctx, r.exec(exec), &slots, query, psychologistID, holder); err != nil {
		return nil, fmt.Errorf("find held slots: %w", err)
	}
	return slots, nil
}

// RefreshHold resets the expiry of a hold the holder already owns.
func (r *SlotRepository) RefreshHold(ctx context.Context, exec sqlx.ExtContext, slotID int64, holder string, until time.Time) error {
	const query = `UPDATE slots SET held_until = $1, updated_at = now() WHERE id = $2 AND held_by = $3 AND state = 'held'`
	res, err := r.exec(exec).ExecContext(ctx, query, until, slotID, holder)
	if err != nil {
		return fmt.Errorf("refresh hold on slot %d: %w", slotID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh hold on slot %d: %w", slotID, err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("slot %d is not held by this holder", slotID))
	}
	return nil
}

// ReleaseHeld returns the holder's held slots to available. Already-released
// rows simply do not match and are skipped, which makes the call idempotent.
func (r *SlotRepository) ReleaseHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE slots SET state = 'available', held_by = NULL, held_until = NULL, updated_at = now()
WHERE id IN (?) AND held_by = ? AND state = 'held'`, ids, holder)
	if err != nil {
		return 0, fmt.Errorf("release held slots: %w", err)
	}
	target := r.exec(exec)
	res, err := target.ExecContext(ctx, target.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("release held slots: %w", err)
	}
	return res.RowsAffected()
}

// ExtendHeld pushes out the expiry of the holder's live holds.
func (r *SlotRepository) ExtendHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64, extra time.Duration, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE slots SET held_until = held_until + (? * interval '1 second'), updated_at = now()
WHERE id IN (?) AND held_by = ? AND state = 'held' AND held_until > ?`, int64(extra.Seconds()), ids, holder, now)
	if err != nil {
		return 0, fmt.Errorf("extend held slots: %w", err)
	}
	target := r.exec(exec)
	res, err := target.ExecContext(ctx, target.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("extend held slots: %w", err)
	}
	return res.RowsAffected()
}

// FindExpiredHeldIDs returns slots whose hold TTL has lapsed, in the same
// timeline order the reservation paths lock in.
func (r *SlotRepository) FindExpiredHeldIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `SELECT id FROM slots WHERE state = 'held' AND held_until < $1 ORDER BY slot_date ASC, start_time ASC, id ASC LIMIT $2`
	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("find expired holds: %w", err)
	}
	return ids, nil
}

// UpsertGenerated inserts generated slots, leaving existing rows at the same
// timeline position untouched. Returns the number of rows actually inserted.
func (r *SlotRepository) UpsertGenerated(ctx context.Context, exec sqlx.ExtContext, slots []models.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	target := r.exec(exec)

	const query = `
INSERT INTO slots (psychologist_id, availability_block_id, slot_date, start_time, end_time, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'available', now(), now())
ON CONFLICT (psychologist_id, slot_date, start_time) DO NOTHING`

	inserted := 0
	for i := range slots {
		slot := &slots[i]
		res, err := target.ExecContext(ctx, query, slot.PsychologistID, slot.AvailabilityBlockID, slot.SlotDate, slot.StartTime, slot.EndTime)
		if err != nil {
			return inserted, fmt.Errorf("insert slot %s %s: %w", slot.SlotDate.Format("2006-01-02"), slot.StartTime, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// DeleteAvailableByBlock removes a block's still-available slots in the date
// range. Held and booked rows are never regenerated away.
func (r *SlotRepository) DeleteAvailableByBlock(ctx context.Context, exec sqlx.ExtContext, blockID string, from, to time.Time) (int64, error) {
	const query = `DELETE FROM slots WHERE availability_block_id = $1 AND state = 'available' AND slot_date >= $2 AND slot_date <= $3`
	res, err := r.exec(exec).ExecContext(ctx, query, blockID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete available slots for block %s: %w", blockID, err)
	}
	return res.RowsAffected()
}

// DeleteAvailableBefore prunes stale unbooked slots older than the cutoff.
func (r *SlotRepository) DeleteAvailableBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM slots WHERE state = 'available' AND slot_date < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete past slots: %w", err)
	}
	return res.RowsAffected()
}

// ListAvailable returns bookable slots for a psychologist in the range,
// ordered by timeline position.
func (r *SlotRepository) ListAvailable(ctx context.Context, psychologistID string, from, to time.Time) ([]models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots
WHERE psychologist_id = $1 AND state = 'available' AND slot_date >= $2 AND slot_date <= $3
ORDER BY slot_date ASC, start_time ASC`
	var slots []models.Slot
	if err := sqlx.SelectContext(ctx, r.db, &slots, query, psychologistID, from, to); err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// ListByIDs loads slots by id in timeline order.
func (r *SlotRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.Slot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+slotColumns+` FROM slots WHERE id IN (?) ORDER BY slot_date ASC, start_time ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("list slots by ids: %w", err)
	}
	var slots []models.Slot
	if err := sqlx.SelectContext(ctx, r.db, &slots, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list slots by ids: %w", err)
	}
	return slots, nil
}
