package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
)

type txStub struct {
	calls int
}

func (s *txStub) WithTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	s.calls++
	return fn(nil)
}

type transitionCall struct {
	SlotID int64
	From   models.SlotState
	To     models.SlotState
}

type slotStoreStub struct {
	byPos map[string]*models.Slot
	held  []models.Slot

	transitions []transitionCall
	refreshed   []int64
	releasedIDs []int64
	extendedIDs []int64

	posErr      error
	findHeldErr error
}

func posKey(date time.Time, start string) string {
	return fmt.Sprintf("%s|%s", date.Format("2006-01-02"), start)
}

func (s *slotStoreStub) GetByPosition(ctx context.Context, psychologistID string, date time.Time, startTime string) (*models.Slot, error) {
	if s.posErr != nil {
		return nil, s.posErr
	}
	if slot, ok := s.byPos[posKey(date, startTime)]; ok {
		copied := *slot
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *slotStoreStub) GetByPositionForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID string, date time.Time, startTime string) (*models.Slot, error) {
	return s.GetByPosition(ctx, psychologistID, date, startTime)
}

func (s *slotStoreStub) Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error {
	if !from.CanTransitionTo(to) {
		return appErrors.ErrInvalidTransition
	}
	s.transitions = append(s.transitions, transitionCall{SlotID: slotID, From: from, To: to})
	for _, slot := range s.byPos {
		if slot.ID == slotID {
			slot.State = to
			slot.HeldBy = heldBy
			slot.HeldUntil = heldUntil
		}
	}
	return nil
}

func (s *slotStoreStub) RefreshHold(ctx context.Context, exec sqlx.ExtContext, slotID int64, holder string, until time.Time) error {
	s.refreshed = append(s.refreshed, slotID)
	return nil
}

func (s *slotStoreStub) FindHeldByHolderForUpdate(ctx context.Context, exec sqlx.ExtContext, psychologistID, holder string) ([]models.Slot, error) {
	if s.findHeldErr != nil {
		return nil, s.findHeldErr
	}
	return s.held, nil
}

func (s *slotStoreStub) ReleaseHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64) (int64, error) {
	s.releasedIDs = append(s.releasedIDs, ids...)
	return int64(len(ids)), nil
}

func (s *slotStoreStub) ExtendHeld(ctx context.Context, exec sqlx.ExtContext, holder string, ids []int64, extra time.Duration, now time.Time) (int64, error) {
	s.extendedIDs = append(s.extendedIDs, ids...)
	return int64(len(ids)), nil
}

var testDay = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

func availableSlot(id int64, start, end string) *models.Slot {
	return &models.Slot{
		ID:             id,
		PsychologistID: "psy-1",
		SlotDate:       testDay,
		StartTime:      start,
		EndTime:        end,
		State:          models.SlotStateAvailable,
	}
}

func newTestEngine(store *slotStoreStub) (*ReservationService, *txStub) {
	tx := &txStub{}
	engine := NewReservationService(store, tx, ReservationConfig{
		HoldTTL:     30 * time.Minute,
		LockRetries: 2,
	}, nil, zap.NewNop())
	return engine, tx
}

func TestHoldSingleSlot(t *testing.T) {
	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): availableSlot(1, "09:00", "10:00"),
	}}
	engine, _ := newTestEngine(store)

	result, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 1)
	require.NoError(t, err)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, models.SlotStateHeld, result.Slots[0].State)
	assert.Equal(t, "parent-1", *result.Slots[0].HeldBy)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), result.HeldUntil, 5*time.Second)
	require.Len(t, store.transitions, 1)
	assert.Equal(t, transitionCall{SlotID: 1, From: models.SlotStateAvailable, To: models.SlotStateHeld}, store.transitions[0])
}

func TestHoldConsecutivePairLocksInOrder(t *testing.T) {
	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): availableSlot(1, "09:00", "10:00"),
		posKey(testDay, "10:00"): availableSlot(2, "10:00", "11:00"),
	}}
	engine, _ := newTestEngine(store)

	result, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 2)
	require.NoError(t, err)
	require.Len(t, result.Slots, 2)
	require.Len(t, store.transitions, 2)
	assert.Equal(t, int64(1), store.transitions[0].SlotID)
	assert.Equal(t, int64(2), store.transitions[1].SlotID)
	assert.Equal(t, result.Slots[0].HeldUntil, result.Slots[1].HeldUntil)
}

func TestHoldInsufficientConsecutive(t *testing.T) {
	other := "parent-2"
	until := time.Now().Add(20 * time.Minute)
	second := availableSlot(2, "10:00", "11:00")
	second.State = models.SlotStateHeld
	second.HeldBy = &other
	second.HeldUntil = &until

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): availableSlot(1, "09:00", "10:00"),
		posKey(testDay, "10:00"): second,
	}}
	engine, _ := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 2)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientConsecutive.Code, appErrors.FromError(err).Code)
}

func TestHoldMissingSlot(t *testing.T) {
	store := &slotStoreStub{byPos: map[string]*models.Slot{}}
	engine, _ := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotNotFound.Code, appErrors.FromError(err).Code)
}

func TestHoldSecondSlotMissingNamesPosition(t *testing.T) {
	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): availableSlot(1, "09:00", "10:00"),
	}}
	engine, _ := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 2)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientConsecutive.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "10:00")
}

func TestHoldBlockedStartSlotForPair(t *testing.T) {
	other := "parent-2"
	until := time.Now().Add(20 * time.Minute)
	first := availableSlot(1, "09:00", "10:00")
	first.State = models.SlotStateHeld
	first.HeldBy = &other
	first.HeldUntil = &until

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): first,
		posKey(testDay, "10:00"): availableSlot(2, "10:00", "11:00"),
	}}
	engine, _ := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 2)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
}

func TestHoldReentrantRefreshesTTL(t *testing.T) {
	holder := "parent-1"
	until := time.Now().Add(5 * time.Minute)
	slot := availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &holder
	slot.HeldUntil = &until

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): slot,
	}}
	engine, _ := newTestEngine(store)

	result, err := engine.Hold(context.Background(), holder, "psy-1", testDay, "09:00", 1)
	require.NoError(t, err)
	require.Len(t, result.Slots, 1)
	assert.Empty(t, store.transitions)
	assert.Equal(t, []int64{1}, store.refreshed)
}

func TestHoldReclaimsExpiredForeignHold(t *testing.T) {
	other := "parent-2"
	lapsed := time.Now().Add(-time.Minute)
	slot := availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &other
	slot.HeldUntil = &lapsed

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): slot,
	}}
	engine, _ := newTestEngine(store)

	result, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 1)
	require.NoError(t, err)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, "parent-1", *result.Slots[0].HeldBy)
	require.Len(t, store.transitions, 2)
	assert.Equal(t, models.SlotStateAvailable, store.transitions[0].To)
	assert.Equal(t, models.SlotStateHeld, store.transitions[1].To)
}

func TestHoldRetriesLockTimeoutThenFails(t *testing.T) {
	store := &slotStoreStub{
		byPos:  map[string]*models.Slot{},
		posErr: &pq.Error{Code: pgLockNotAvailable},
	}
	engine, tx := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrReservationFailed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 3, tx.calls)
}

func TestHoldDoesNotRetryDomainRejection(t *testing.T) {
	store := &slotStoreStub{byPos: map[string]*models.Slot{}}
	engine, tx := newTestEngine(store)

	_, err := engine.Hold(context.Background(), "parent-1", "psy-1", testDay, "09:00", 1)
	require.Error(t, err)
	assert.Equal(t, 1, tx.calls)
}

func TestConfirmPromotesHeldSlots(t *testing.T) {
	holder := "parent-1"
	until := time.Now().Add(10 * time.Minute)
	first := *availableSlot(1, "09:00", "10:00")
	first.State = models.SlotStateHeld
	first.HeldBy = &holder
	first.HeldUntil = &until
	second := *availableSlot(2, "10:00", "11:00")
	second.State = models.SlotStateHeld
	second.HeldBy = &holder
	second.HeldUntil = &until

	store := &slotStoreStub{held: []models.Slot{first, second}}
	engine, _ := newTestEngine(store)

	result, err := engine.Confirm(context.Background(), holder, "psy-1")
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 2)
	assert.Empty(t, result.Expired)
	for _, call := range store.transitions {
		assert.Equal(t, models.SlotStateBooked, call.To)
	}
}

func TestConfirmClearsHoldFields(t *testing.T) {
	holder := "parent-1"
	until := time.Now().Add(10 * time.Minute)
	slot := availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &holder
	slot.HeldUntil = &until

	store := &slotStoreStub{
		byPos: map[string]*models.Slot{posKey(testDay, "09:00"): slot},
		held:  []models.Slot{*slot},
	}
	engine, _ := newTestEngine(store)

	result, err := engine.Confirm(context.Background(), holder, "psy-1")
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 1)
	assert.Nil(t, result.Confirmed[0].HeldBy)
	assert.Nil(t, result.Confirmed[0].HeldUntil)
	assert.Equal(t, models.SlotStateBooked, slot.State)
	assert.Nil(t, slot.HeldBy)
	assert.Nil(t, slot.HeldUntil)
}

func TestConfirmWithoutHold(t *testing.T) {
	store := &slotStoreStub{}
	engine, _ := newTestEngine(store)

	_, err := engine.Confirm(context.Background(), "parent-1", "psy-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrReservationNotFound.Code, appErrors.FromError(err).Code)
}

func TestConfirmSkipsExpiredSlots(t *testing.T) {
	holder := "parent-1"
	live := time.Now().Add(10 * time.Minute)
	lapsed := time.Now().Add(-time.Minute)

	first := *availableSlot(1, "09:00", "10:00")
	first.State = models.SlotStateHeld
	first.HeldBy = &holder
	first.HeldUntil = &lapsed
	second := *availableSlot(2, "10:00", "11:00")
	second.State = models.SlotStateHeld
	second.HeldBy = &holder
	second.HeldUntil = &live

	store := &slotStoreStub{held: []models.Slot{first, second}}
	engine, _ := newTestEngine(store)

	result, err := engine.Confirm(context.Background(), holder, "psy-1")
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 1)
	assert.Equal(t, int64(2), result.Confirmed[0].ID)
	assert.Equal(t, []int64{1}, result.Expired)
	require.Len(t, store.transitions, 2)
	assert.Equal(t, models.SlotStateAvailable, store.transitions[0].To)
	assert.Equal(t, models.SlotStateBooked, store.transitions[1].To)
}

func TestReleaseWithoutHoldIsNoop(t *testing.T) {
	store := &slotStoreStub{}
	engine, _ := newTestEngine(store)

	released, err := engine.Release(context.Background(), "parent-1", "psy-1")
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestExtendHoldNeedsLiveHold(t *testing.T) {
	holder := "parent-1"
	lapsed := time.Now().Add(-time.Minute)
	slot := *availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &holder
	slot.HeldUntil = &lapsed

	store := &slotStoreStub{held: []models.Slot{slot}}
	engine, _ := newTestEngine(store)

	_, err := engine.ExtendHold(context.Background(), holder, "psy-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrReservationNotFound.Code, appErrors.FromError(err).Code)
}

func TestCheckAvailabilityCountsExpiredHoldAsFree(t *testing.T) {
	other := "parent-2"
	lapsed := time.Now().Add(-time.Minute)
	slot := availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &other
	slot.HeldUntil = &lapsed

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): slot,
	}}
	engine, _ := newTestEngine(store)

	available, slots, err := engine.CheckAvailability(context.Background(), "psy-1", testDay, "09:00", 1)
	require.NoError(t, err)
	assert.True(t, available)
	require.Len(t, slots, 1)
}

func TestCheckAvailabilityRejectsLiveForeignHold(t *testing.T) {
	other := "parent-2"
	live := time.Now().Add(10 * time.Minute)
	slot := availableSlot(1, "09:00", "10:00")
	slot.State = models.SlotStateHeld
	slot.HeldBy = &other
	slot.HeldUntil = &live

	store := &slotStoreStub{byPos: map[string]*models.Slot{
		posKey(testDay, "09:00"): slot,
	}}
	engine, _ := newTestEngine(store)

	available, _, err := engine.CheckAvailability(context.Background(), "psy-1", testDay, "09:00", 1)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestConsecutivePositionsStopAtMidnight(t *testing.T) {
	_, err := consecutivePositions("23:00", 2)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientConsecutive.Code, appErrors.FromError(err).Code)

	positions, err := consecutivePositions("09:00", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00"}, positions)
}
