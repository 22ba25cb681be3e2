package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

// GeneratorSlotStore is the slot persistence the generator needs.
type GeneratorSlotStore interface {
	UpsertGenerated(ctx context.Context, exec sqlx.ExtContext, slots []models.Slot) (int, error)
	DeleteAvailableByBlock(ctx context.Context, exec sqlx.ExtContext, blockID string, from, to time.Time) (int64, error)
	DeleteAvailableBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GeneratorBlockStore reads availability blocks for expansion.
type GeneratorBlockStore interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error)
	ListByPsychologist(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error)
	ListAllPsychologistIDs(ctx context.Context) ([]string, error)
}

// GeneratorConfig sets the generation horizons.
type GeneratorConfig struct {
	DaysAhead     int
	BulkDaysAhead int
}

// SlotGeneratorService materialises 1-hour slots from availability blocks.
// Generation is idempotent: slots insert with conflict-ignore on the unique
// timeline position, so re-running over the same window changes nothing and
// never touches held or booked rows.
type SlotGeneratorService struct {
	slots   GeneratorSlotStore
	blocks  GeneratorBlockStore
	tx      TxManager
	cfg     GeneratorConfig
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSlotGeneratorService builds the generator.
func NewSlotGeneratorService(slots GeneratorSlotStore, blocks GeneratorBlockStore, tx TxManager, cfg GeneratorConfig, metrics *Metrics, logger *zap.Logger) *SlotGeneratorService {
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 30
	}
	if cfg.BulkDaysAhead <= 0 {
		cfg.BulkDaysAhead = 90
	}
	return &SlotGeneratorService{
		slots:   slots,
		blocks:  blocks,
		tx:      tx,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GenerateForBlock expands one block over the standard horizon starting
// today. Returns the number of slots inserted.
func (s *SlotGeneratorService) GenerateForBlock(ctx context.Context, blockID string) (int, error) {
	block, err := s.blocks.FindByID(ctx, blockID)
	if err != nil {
		return 0, err
	}
	from := dateOnly(s.now())
	to := from.AddDate(0, 0, s.cfg.DaysAhead)
	return s.generate(ctx, []models.AvailabilityBlock{*block}, from, to)
}

// RegenerateForBlock rebuilds a changed block's future slots: still-available
// rows in the window are dropped first, then the window is expanded fresh.
// Held and booked slots survive the rebuild untouched.
func (s *SlotGeneratorService) RegenerateForBlock(ctx context.Context, blockID string) (int, error) {
	block, err := s.blocks.FindByID(ctx, blockID)
	if err != nil {
		return 0, err
	}
	from := dateOnly(s.now())
	to := from.AddDate(0, 0, s.cfg.DaysAhead)

	var inserted int
	err = s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		if _, err := s.slots.DeleteAvailableByBlock(ctx, exec, blockID, from, to); err != nil {
			return err
		}
		rows := expandBlocks([]models.AvailabilityBlock{*block}, from, to)
		n, err := s.slots.UpsertGenerated(ctx, exec, rows)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.recordGenerated(inserted, block.PsychologistID)
	return inserted, nil
}

// DeleteBlockSlots removes a deleted block's future available slots.
func (s *SlotGeneratorService) DeleteBlockSlots(ctx context.Context, blockID string) (int64, error) {
	from := dateOnly(s.now())
	to := from.AddDate(0, 0, s.cfg.BulkDaysAhead)
	var removed int64
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		n, err := s.slots.DeleteAvailableByBlock(ctx, exec, blockID, from, to)
		removed = n
		return err
	})
	return removed, err
}

// GenerateForPsychologist expands all of one provider's blocks over the
// standard horizon.
func (s *SlotGeneratorService) GenerateForPsychologist(ctx context.Context, psychologistID string) (int, error) {
	blocks, err := s.blocks.ListByPsychologist(ctx, psychologistID)
	if err != nil {
		return 0, err
	}
	from := dateOnly(s.now())
	to := from.AddDate(0, 0, s.cfg.DaysAhead)
	return s.generate(ctx, blocks, from, to)
}

// BulkGenerate expands every provider's blocks over the long horizon. Used by
// the scheduled maintenance job.
func (s *SlotGeneratorService) BulkGenerate(ctx context.Context) (int, error) {
	ids, err := s.blocks.ListAllPsychologistIDs(ctx)
	if err != nil {
		return 0, err
	}
	from := dateOnly(s.now())
	to := from.AddDate(0, 0, s.cfg.BulkDaysAhead)

	total := 0
	for _, id := range ids {
		blocks, err := s.blocks.ListByPsychologist(ctx, id)
		if err != nil {
			return total, err
		}
		n, err := s.generate(ctx, blocks, from, to)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CleanupPastSlots prunes unbooked slots older than today.
func (s *SlotGeneratorService) CleanupPastSlots(ctx context.Context) (int64, error) {
	cutoff := dateOnly(s.now())
	removed, err := s.slots.DeleteAvailableBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 && s.logger != nil {
		s.logger.Info("pruned past slots", zap.Int64("removed", removed))
	}
	return removed, nil
}

func (s *SlotGeneratorService) generate(ctx context.Context, blocks []models.AvailabilityBlock, from, to time.Time) (int, error) {
	rows := expandBlocks(blocks, from, to)
	if len(rows) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.tx.WithTx(ctx, func(exec sqlx.ExtContext) error {
		n, err := s.slots.UpsertGenerated(ctx, exec, rows)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.recordGenerated(inserted, rows[0].PsychologistID)
	return inserted, nil
}

func (s *SlotGeneratorService) recordGenerated(n int, psychologistID string) {
	if n == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.SlotsGenerated.Add(float64(n))
	}
	if s.logger != nil {
		s.logger.Info("generated slots",
			zap.Int("inserted", n),
			zap.String("psychologist_id", psychologistID))
	}
}

// expandBlocks walks each date in [from, to] and emits one slot per whole
// hour of every block matching that date.
func expandBlocks(blocks []models.AvailabilityBlock, from, to time.Time) []models.Slot {
	var rows []models.Slot
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		for i := range blocks {
			block := &blocks[i]
			if !block.MatchesDate(d) {
				continue
			}
			start := block.StartTime
			for h := 0; h < block.Hours(); h++ {
				end, ok := models.NextHour(start)
				if !ok {
					break
				}
				rows = append(rows, models.Slot{
					PsychologistID:      block.PsychologistID,
					AvailabilityBlockID: block.ID,
					SlotDate:            d,
					StartTime:           start,
					EndTime:             end,
					State:               models.SlotStateAvailable,
				})
				start = end
			}
		}
	}
	return rows
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
