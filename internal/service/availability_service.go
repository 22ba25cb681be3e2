package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/jobs"
)

// BlockStore is the availability block persistence surface.
type BlockStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error
	Update(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error)
	ListByPsychologist(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error)
}

// JobEnqueuer dispatches background slot generation work.
type JobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SlotPurger removes a deleted block's future slots.
type SlotPurger interface {
	DeleteBlockSlots(ctx context.Context, blockID string) (int64, error)
}

// GenerationPayload is the job payload for block-scoped generation.
type GenerationPayload struct {
	BlockID        string `json:"block_id"`
	PsychologistID string `json:"psychologist_id"`
}

// AvailabilityService manages psychologist availability blocks. Slot
// materialisation runs asynchronously: create and update enqueue generation
// jobs rather than expanding the horizon inline.
type AvailabilityService struct {
	blocks   BlockStore
	queue    JobEnqueuer
	purger   SlotPurger
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAvailabilityService builds the service.
func NewAvailabilityService(blocks BlockStore, queue JobEnqueuer, purger SlotPurger, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		blocks:   blocks,
		queue:    queue,
		purger:   purger,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create stores a new block for the acting psychologist and enqueues slot
// generation for it.
func (s *AvailabilityService) Create(ctx context.Context, actor models.Actor, req *models.UpsertAvailabilityRequest) (*models.AvailabilityBlock, error) {
	block, err := s.blockFromRequest(req)
	if err != nil {
		return nil, err
	}
	block.ID = uuid.NewString()
	block.PsychologistID = actor.ID

	if err := s.blocks.Create(ctx, nil, block); err != nil {
		return nil, err
	}
	s.enqueue(jobs.TypeSlotGeneration, block)
	return block, nil
}

// Update rewrites a block the actor owns and enqueues regeneration, which
// rebuilds future available slots while leaving held and booked ones alone.
func (s *AvailabilityService) Update(ctx context.Context, actor models.Actor, blockID string, req *models.UpsertAvailabilityRequest) (*models.AvailabilityBlock, error) {
	existing, err := s.ownedBlock(ctx, actor, blockID)
	if err != nil {
		return nil, err
	}

	updated, err := s.blockFromRequest(req)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.PsychologistID = existing.PsychologistID

	if err := s.blocks.Update(ctx, nil, updated); err != nil {
		return nil, err
	}
	s.enqueue(jobs.TypeSlotRegeneration, updated)
	return updated, nil
}

// Delete removes a block the actor owns and purges its future available
// slots synchronously so they stop showing up in listings right away.
func (s *AvailabilityService) Delete(ctx context.Context, actor models.Actor, blockID string) error {
	block, err := s.ownedBlock(ctx, actor, blockID)
	if err != nil {
		return err
	}

	removed, err := s.purger.DeleteBlockSlots(ctx, block.ID)
	if err != nil {
		return err
	}
	if err := s.blocks.Delete(ctx, nil, block.ID); err != nil {
		return err
	}

	s.logger.Info("availability block deleted",
		zap.String("block_id", block.ID),
		zap.String("psychologist_id", block.PsychologistID),
		zap.Int64("purged_slots", removed))
	return nil
}

// Generate re-enqueues slot generation for one owned block. Exists for
// recovery after dropped jobs; the normal path is the create/update hook.
func (s *AvailabilityService) Generate(ctx context.Context, actor models.Actor, blockID string) error {
	block, err := s.ownedBlock(ctx, actor, blockID)
	if err != nil {
		return err
	}
	s.enqueue(jobs.TypeSlotGeneration, block)
	return nil
}

// BulkGenerate enqueues the full-horizon regeneration and cleanup pass
// without waiting for the scheduled tick.
func (s *AvailabilityService) BulkGenerate(ctx context.Context) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobs.TypeBulkGeneration,
		Key:     jobs.TypeBulkGeneration,
		Payload: GenerationPayload{},
	})
}

// List returns the psychologist's blocks.
func (s *AvailabilityService) List(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error) {
	return s.blocks.ListByPsychologist(ctx, psychologistID)
}

func (s *AvailabilityService) ownedBlock(ctx context.Context, actor models.Actor, blockID string) (*models.AvailabilityBlock, error) {
	block, err := s.blocks.FindByID(ctx, blockID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability block not found")
		}
		return nil, err
	}
	if actor.Role != models.RoleAdmin && block.PsychologistID != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	return block, nil
}

func (s *AvailabilityService) blockFromRequest(req *models.UpsertAvailabilityRequest) (*models.AvailabilityBlock, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	}

	block := &models.AvailabilityBlock{
		IsRecurring: req.IsRecurring,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}

	if req.IsRecurring {
		if req.DayOfWeek == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recurring blocks need day_of_week")
		}
		block.DayOfWeek = req.DayOfWeek
	} else {
		if req.SpecificDate == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "one-off blocks need specific_date")
		}
		date, err := time.ParseInLocation("2006-01-02", req.SpecificDate, time.UTC)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid specific_date")
		}
		block.SpecificDate = &date
	}

	if block.Hours() < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "window must span at least one whole hour")
	}
	if !block.WholeHours() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "window must split into whole hours")
	}
	return block, nil
}

func (s *AvailabilityService) enqueue(jobType string, block *models.AvailabilityBlock) {
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: jobType,
		Key:  jobType + ":" + block.ID,
		Payload: GenerationPayload{
			BlockID:        block.ID,
			PsychologistID: block.PsychologistID,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to enqueue slot generation",
			zap.String("block_id", block.ID),
			zap.String("type", jobType),
			zap.Error(err))
	}
}
