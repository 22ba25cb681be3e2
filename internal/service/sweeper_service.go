package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

// SweeperSlotStore is the slot surface the sweeper needs.
type SweeperSlotStore interface {
	FindExpiredHeldIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Slot, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, slotID int64, from, to models.SlotState, heldBy *string, heldUntil *time.Time) error
}

// SweeperConfig controls the reclamation loop.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// ExpirySweeper reclaims held slots whose TTL lapsed without payment. Each
// slot is handled in its own short transaction that re-checks expiry under
// the row lock, so a sweep racing a confirmation or a fresh hold loses
// cleanly on a per-slot basis.
type ExpirySweeper struct {
	slots   SweeperSlotStore
	tx      TxManager
	cfg     SweeperConfig
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewExpirySweeper builds the sweeper.
func NewExpirySweeper(slots SweeperSlotStore, tx TxManager, cfg SweeperConfig, metrics *Metrics, logger *zap.Logger) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &ExpirySweeper{
		slots:   slots,
		tx:      tx,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one reclamation pass and returns the number of slots reclaimed.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.slots.FindExpiredHeldIDs(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		ok, err := s.reclaim(ctx, id)
		if err != nil {
			s.logger.Warn("failed to reclaim slot",
				zap.Int64("slot_id", id),
				zap.Error(err))
			continue
		}
		if ok {
			reclaimed++
		}
	}

	if reclaimed > 0 {
		if s.metrics != nil {
			s.metrics.SlotsReclaimed.Add(float64(reclaimed))
		}
		s.logger.Info("swept expired holds", zap.Int("reclaimed", reclaimed))
	}
	return reclaimed, nil
}

// reclaim returns one slot to the pool if its hold is still expired once the
// row lock is taken.
func (s *ExpirySweeper) reclaim(ctx context.Context, id int64) (bool, error) {
	reclaimed := false
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		slot, err := s.slots.GetForUpdate(ctx, exec, id)
		if err != nil {
			return err
		}
		if !slot.HoldExpired(s.now()) {
			// Confirmed, released or re-held since the scan. Leave it.
			return nil
		}
		if err := s.slots.Transition(ctx, exec, slot.ID, models.SlotStateHeld, models.SlotStateAvailable, nil, nil); err != nil {
			return err
		}
		reclaimed = true
		return nil
	})
	return reclaimed, err
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
