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
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/jobs"
)

type mutableBlockStoreStub struct {
	blockStoreStub
	created []*models.AvailabilityBlock
	updated []*models.AvailabilityBlock
	deleted []string
}

func (b *mutableBlockStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error {
	b.created = append(b.created, block)
	return nil
}

func (b *mutableBlockStoreStub) Update(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error {
	b.updated = append(b.updated, block)
	return nil
}

func (b *mutableBlockStoreStub) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type purgerStub struct {
	purged []string
}

func (p *purgerStub) DeleteBlockSlots(ctx context.Context, blockID string) (int64, error) {
	p.purged = append(p.purged, blockID)
	return 4, nil
}

func psyActor() models.Actor {
	return models.Actor{ID: "psy-1", Role: models.RolePsychologist}
}

func TestCreateRecurringBlockEnqueuesGeneration(t *testing.T) {
	store := &mutableBlockStoreStub{}
	queue := &queueStub{}
	svc := NewAvailabilityService(store, queue, &purgerStub{}, zap.NewNop())

	monday := 1
	block, err := svc.Create(context.Background(), psyActor(), &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		DayOfWeek:   &monday,
		StartTime:   "09:00",
		EndTime:     "12:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "psy-1", block.PsychologistID)
	assert.NotEmpty(t, block.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.TypeSlotGeneration, queue.jobs[0].Type)

	payload, ok := queue.jobs[0].Payload.(GenerationPayload)
	require.True(t, ok)
	assert.Equal(t, block.ID, payload.BlockID)
}

func TestCreateRecurringBlockNeedsDayOfWeek(t *testing.T) {
	svc := NewAvailabilityService(&mutableBlockStoreStub{}, &queueStub{}, &purgerStub{}, zap.NewNop())

	_, err := svc.Create(context.Background(), psyActor(), &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		StartTime:   "09:00",
		EndTime:     "12:00",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateBlockRejectsSubHourWindow(t *testing.T) {
	svc := NewAvailabilityService(&mutableBlockStoreStub{}, &queueStub{}, &purgerStub{}, zap.NewNop())

	monday := 1
	_, err := svc.Create(context.Background(), psyActor(), &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		DayOfWeek:   &monday,
		StartTime:   "09:00",
		EndTime:     "09:30",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateBlockRejectsPartialHourWindow(t *testing.T) {
	store := &mutableBlockStoreStub{}
	svc := NewAvailabilityService(store, &queueStub{}, &purgerStub{}, zap.NewNop())

	monday := 1
	_, err := svc.Create(context.Background(), psyActor(), &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		DayOfWeek:   &monday,
		StartTime:   "09:00",
		EndTime:     "10:30",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "whole hours")
	assert.Empty(t, store.created)
}

func TestUpdateBlockEnqueuesRegeneration(t *testing.T) {
	monday := 1
	store := &mutableBlockStoreStub{blockStoreStub: blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {ID: "block-1", PsychologistID: "psy-1", IsRecurring: true, DayOfWeek: &monday, StartTime: "09:00", EndTime: "12:00"},
	}}}
	queue := &queueStub{}
	svc := NewAvailabilityService(store, queue, &purgerStub{}, zap.NewNop())

	tuesday := 2
	updated, err := svc.Update(context.Background(), psyActor(), "block-1", &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		DayOfWeek:   &tuesday,
		StartTime:   "14:00",
		EndTime:     "17:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "block-1", updated.ID)
	assert.Equal(t, "psy-1", updated.PsychologistID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.TypeSlotRegeneration, queue.jobs[0].Type)
}

func TestUpdateForeignBlockForbidden(t *testing.T) {
	monday := 1
	store := &mutableBlockStoreStub{blockStoreStub: blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {ID: "block-1", PsychologistID: "psy-2", IsRecurring: true, DayOfWeek: &monday, StartTime: "09:00", EndTime: "12:00"},
	}}}
	svc := NewAvailabilityService(store, &queueStub{}, &purgerStub{}, zap.NewNop())

	_, err := svc.Update(context.Background(), psyActor(), "block-1", &models.UpsertAvailabilityRequest{
		IsRecurring: true,
		DayOfWeek:   &monday,
		StartTime:   "09:00",
		EndTime:     "12:00",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeleteBlockPurgesSlots(t *testing.T) {
	monday := 1
	store := &mutableBlockStoreStub{blockStoreStub: blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {ID: "block-1", PsychologistID: "psy-1", IsRecurring: true, DayOfWeek: &monday, StartTime: "09:00", EndTime: "12:00"},
	}}}
	purger := &purgerStub{}
	svc := NewAvailabilityService(store, &queueStub{}, purger, zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), psyActor(), "block-1"))
	assert.Equal(t, []string{"block-1"}, purger.purged)
	assert.Equal(t, []string{"block-1"}, store.deleted)
}

func TestGenerateRequeuesOwnedBlock(t *testing.T) {
	monday := 1
	store := &mutableBlockStoreStub{blockStoreStub: blockStoreStub{blocks: map[string]*models.AvailabilityBlock{
		"block-1": {ID: "block-1", PsychologistID: "psy-1", IsRecurring: true, DayOfWeek: &monday, StartTime: "09:00", EndTime: "12:00"},
	}}}
	queue := &queueStub{}
	svc := NewAvailabilityService(store, queue, &purgerStub{}, zap.NewNop())

	require.NoError(t, svc.Generate(context.Background(), psyActor(), "block-1"))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.TypeSlotGeneration, queue.jobs[0].Type)

	err := svc.Generate(context.Background(), models.Actor{ID: "psy-2", Role: models.RolePsychologist}, "block-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBulkGenerateEnqueuesFullPass(t *testing.T) {
	queue := &queueStub{}
	svc := NewAvailabilityService(&mutableBlockStoreStub{}, queue, &purgerStub{}, zap.NewNop())

	require.NoError(t, svc.BulkGenerate(context.Background()))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.TypeBulkGeneration, queue.jobs[0].Type)
	assert.Equal(t, jobs.TypeBulkGeneration, queue.jobs[0].Key)
}

func TestCreateOneOffBlock(t *testing.T) {
	store := &mutableBlockStoreStub{}
	svc := NewAvailabilityService(store, &queueStub{}, &purgerStub{}, zap.NewNop())

	block, err := svc.Create(context.Background(), psyActor(), &models.UpsertAvailabilityRequest{
		IsRecurring:  false,
		SpecificDate: "2026-09-18",
		StartTime:    "10:00",
		EndTime:      "13:00",
	})
	require.NoError(t, err)
	require.NotNil(t, block.SpecificDate)
	assert.Equal(t, time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC), *block.SpecificDate)
	assert.Nil(t, block.DayOfWeek)
}
