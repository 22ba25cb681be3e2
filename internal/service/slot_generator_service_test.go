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

type generatorSlotStoreStub struct {
	inserted      []models.Slot
	existing      map[string]struct{}
	deletedBlocks []string
	pastDeleted   int64
}

func slotKey(s *models.Slot) string {
	return s.PsychologistID + "|" + s.SlotDate.Format("2006-01-02") + "|" + s.StartTime
}

func (g *generatorSlotStoreStub) UpsertGenerated(ctx context.Context, exec sqlx.ExtContext, slots []models.Slot) (int, error) {
	if g.existing == nil {
		g.existing = map[string]struct{}{}
	}
	count := 0
	for i := range slots {
		key := slotKey(&slots[i])
		if _, ok := g.existing[key]; ok {
			continue
		}
		g.existing[key] = struct{}{}
		g.inserted = append(g.inserted, slots[i])
		count++
	}
	return count, nil
}

func (g *generatorSlotStoreStub) DeleteAvailableByBlock(ctx context.Context, exec sqlx.ExtContext, blockID string, from, to time.Time) (int64, error) {
	g.deletedBlocks = append(g.deletedBlocks, blockID)
	return 0, nil
}

func (g *generatorSlotStoreStub) DeleteAvailableBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return g.pastDeleted, nil
}

type blockStoreStub struct {
	blocks map[string]*models.AvailabilityBlock
}

func (b *blockStoreStub) FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error) {
	block := b.blocks[id]
	copied := *block
	return &copied, nil
}

func (b *blockStoreStub) ListByPsychologist(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error) {
	var out []models.AvailabilityBlock
	for _, block := range b.blocks {
		if block.PsychologistID == psychologistID {
			out = append(out, *block)
		}
	}
	return out, nil
}

func (b *blockStoreStub) ListAllPsychologistIDs(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var ids []string
	for _, block := range b.blocks {
		if _, ok := seen[block.PsychologistID]; !ok {
			seen[block.PsychologistID] = struct{}{}
			ids = append(ids, block.PsychologistID)
		}
	}
	return ids, nil
}

func newTestGenerator(slots *generatorSlotStoreStub, blocks *blockStoreStub, daysAhead int) *SlotGeneratorService {
	gen := NewSlotGeneratorService(slots, blocks, &txStub{}, GeneratorConfig{
		DaysAhead:     daysAhead,
		BulkDaysAhead: daysAhead * 3,
	}, nil, zap.NewNop())
	// Pin the clock to a Monday so weekday expectations are stable.
	gen.now = func() time.Time { return time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC) }
	return gen
}

func TestGenerateRecurringBlockTwoWeeks(t *testing.T) {
	monday := 1
	blocks := &blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {
			ID:             "block-1",
			PsychologistID: "psy-1",
			IsRecurring:    true,
			DayOfWeek:      &monday,
			StartTime:      "09:00",
			EndTime:        "11:00",
		},
	}}
	slots := &generatorSlotStoreStub{}
	gen := newTestGenerator(slots, blocks, 14)

	inserted, err := gen.GenerateForBlock(context.Background(), "block-1")
	require.NoError(t, err)
	// 2 hours per Monday; Sep 7, 14 and 21 2026 fall inside the horizon.
	assert.Equal(t, 6, inserted)
	for _, slot := range slots.inserted {
		assert.Equal(t, time.Monday, slot.SlotDate.Weekday())
		assert.Equal(t, models.SlotStateAvailable, slot.State)
		assert.Equal(t, "block-1", slot.AvailabilityBlockID)
	}
	assert.Equal(t, "09:00", slots.inserted[0].StartTime)
	assert.Equal(t, "10:00", slots.inserted[0].EndTime)
	assert.Equal(t, "10:00", slots.inserted[1].StartTime)
}

func TestGenerateIsIdempotent(t *testing.T) {
	monday := 1
	blocks := &blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {
			ID:             "block-1",
			PsychologistID: "psy-1",
			IsRecurring:    true,
			DayOfWeek:      &monday,
			StartTime:      "09:00",
			EndTime:        "10:00",
		},
	}}
	slots := &generatorSlotStoreStub{}
	gen := newTestGenerator(slots, blocks, 14)

	first, err := gen.GenerateForBlock(context.Background(), "block-1")
	require.NoError(t, err)
	second, err := gen.GenerateForBlock(context.Background(), "block-1")
	require.NoError(t, err)
	assert.Equal(t, 3, first)
	assert.Zero(t, second)
}

func TestGenerateOneOffBlock(t *testing.T) {
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	blocks := &blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {
			ID:             "block-1",
			PsychologistID: "psy-1",
			IsRecurring:    false,
			SpecificDate:   &date,
			StartTime:      "13:00",
			EndTime:        "16:00",
		},
	}}
	slots := &generatorSlotStoreStub{}
	gen := newTestGenerator(slots, blocks, 14)

	inserted, err := gen.GenerateForBlock(context.Background(), "block-1")
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	for _, slot := range slots.inserted {
		assert.Equal(t, date, slot.SlotDate)
	}
}

func TestRegenerateDropsAvailableFirst(t *testing.T) {
	monday := 1
	blocks := &blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {
			ID:             "block-1",
			PsychologistID: "psy-1",
			IsRecurring:    true,
			DayOfWeek:      &monday,
			StartTime:      "09:00",
			EndTime:        "10:00",
		},
	}}
	slots := &generatorSlotStoreStub{}
	gen := newTestGenerator(slots, blocks, 14)

	_, err := gen.RegenerateForBlock(context.Background(), "block-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"block-1"}, slots.deletedBlocks)
	assert.NotEmpty(t, slots.inserted)
}

func TestBulkGenerateCoversAllProviders(t *testing.T) {
	monday := 1
	tuesday := 2
	blocks := &blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {ID: "block-1", PsychologistID: "psy-1", IsRecurring: true, DayOfWeek: &monday, StartTime: "09:00", EndTime: "10:00"},
		"block-2": {ID: "block-2", PsychologistID: "psy-2", IsRecurring: true, DayOfWeek: &tuesday, StartTime: "14:00", EndTime: "15:00"},
	}}
	slots := &generatorSlotStoreStub{}
	gen := newTestGenerator(slots, blocks, 14)

	inserted, err := gen.BulkGenerate(context.Background())
	require.NoError(t, err)
	assert.Greater(t, inserted, 0)

	providers := map[string]struct{}{}
	for _, slot := range slots.inserted {
		providers[slot.PsychologistID] = struct{}{}
	}
	assert.Len(t, providers, 2)
}

func TestExpandBlocksSkipsZeroHourWindow(t *testing.T) {
	from := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	monday := 1
	blocks := []models.AvailabilityBlock{{
		ID:          "block-1",
		IsRecurring: true,
		DayOfWeek:   &monday,
		StartTime:   "09:30",
		EndTime:     "09:45",
	}}
	rows := expandBlocks(blocks, from, from)
	assert.Empty(t, rows)
}
