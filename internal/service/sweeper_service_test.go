package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

type sweeperStoreStub struct {
	slots       map[int64]*models.Slot
	scanIDs     []int64
	transitions []transitionCall
}

func (s *sweeperStoreStub) FindExpiredHeldIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.scanIDs, nil
}

func (s *sweeperStoreStub) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Slot, error) {
	copied := *s.slots[id]
	return &copied, nil
}

func (s *sweeperStoreStub) Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error {
	s.transitions = append(s.transitions, transitionCall{SlotID: slotID, From: from, To: to})
	slot := s.slots[slotID]
	slot.State = to
	slot.HeldBy = heldBy
	slot.HeldUntil = heldUntil
	return nil
}

func heldSlot(id int64, holder string, until time.Time) *models.Slot {
	return &models.Slot{
		ID:        id,
		SlotDate:  testDay,
		StartTime: "09:00",
		EndTime:   "10:00",
		State:     models.SlotStateHeld,
		HeldBy:    &holder,
		HeldUntil: &until,
	}
}

func TestSweepReclaimsExpiredHolds(t *testing.T) {
	lapsed := time.Now().Add(-time.Minute)
	store := &sweeperStoreStub{
		slots: map[int64]*models.Slot{
			1: heldSlot(1, "parent-1", lapsed),
			2: heldSlot(2, "parent-2", lapsed),
		},
		scanIDs: []int64{1, 2},
	}
	sweeper := NewExpirySweeper(store, &txStub{}, SweeperConfig{BatchSize: 10}, nil, zap.NewNop())

	reclaimed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	for _, slot := range store.slots {
		assert.Equal(t, models.SlotStateAvailable, slot.State)
		assert.Nil(t, slot.HeldBy)
		assert.Nil(t, slot.HeldUntil)
	}
}

func TestSweepLeavesLiveHoldsAlone(t *testing.T) {
	// The scan saw the hold as expired, but it was refreshed before the
	// per-slot lock was taken.
	live := time.Now().Add(10 * time.Minute)
	store := &sweeperStoreStub{
		slots:   map[int64]*models.Slot{1: heldSlot(1, "parent-1", live)},
		scanIDs: []int64{1},
	}
	sweeper := NewExpirySweeper(store, &txStub{}, SweeperConfig{BatchSize: 10}, nil, zap.NewNop())

	reclaimed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Empty(t, store.transitions)
	assert.Equal(t, models.SlotStateHeld, store.slots[1].State)
}

func TestSweepEmptyBatch(t *testing.T) {
	store := &sweeperStoreStub{slots: map[int64]*models.Slot{}}
	sweeper := NewExpirySweeper(store, &txStub{}, SweeperConfig{}, nil, zap.NewNop())

	reclaimed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}
