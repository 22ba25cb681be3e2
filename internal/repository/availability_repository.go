package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

const availabilityColumns = `id, psychologist_id, is_recurring, day_of_week, specific_date, start_time, end_time, created_at, updated_at`

// AvailabilityRepository persists psychologist availability blocks.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository builds the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

func (r *AvailabilityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a block.
func (r *AvailabilityRepository) Create(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error {
	const query = `
INSERT INTO availability_blocks (id, psychologist_id, is_recurring, day_of_week, specific_date, start_time, end_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		block.ID, block.PsychologistID, block.IsRecurring, block.DayOfWeek,
		block.SpecificDate, block.StartTime, block.EndTime,
	); err != nil {
		return fmt.Errorf("insert availability block: %w", err)
	}
	return nil
}

// Update rewrites a block's window fields.
func (r *AvailabilityRepository) Update(ctx context.Context, exec sqlx.ExtContext, block *models.AvailabilityBlock) error {
	const query = `
UPDATE availability_blocks
SET is_recurring = $1, day_of_week = $2, specific_date = $3, start_time = $4, end_time = $5, updated_at = now()
WHERE id = $6`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		block.IsRecurring, block.DayOfWeek, block.SpecificDate,
		block.StartTime, block.EndTime, block.ID,
	); err != nil {
		return fmt.Errorf("update availability block %s: %w", block.ID, err)
	}
	return nil
}

// Delete removes a block.
func (r *AvailabilityRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM availability_blocks WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete availability block %s: %w", id, err)
	}
	return nil
}

// FindByID loads a single block.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability_blocks WHERE id = $1`
	var block models.AvailabilityBlock
	if err := sqlx.GetContext(ctx, r.db, &block, query, id); err != nil {
		return nil, err
	}
	return &block, nil
}

// ListByPsychologist returns all of a provider's blocks, recurring first.
func (r *AvailabilityRepository) ListByPsychologist(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability_blocks
WHERE psychologist_id = $1
ORDER BY is_recurring DESC, day_of_week ASC NULLS LAST, specific_date ASC NULLS LAST, start_time ASC`
	var blocks []models.AvailabilityBlock
	if err := sqlx.SelectContext(ctx, r.db, &blocks, query, psychologistID); err != nil {
		return nil, fmt.Errorf("list availability blocks: %w", err)
	}
	return blocks, nil
}

// ListAllPsychologistIDs returns every provider id that has at least one
// block. Bulk generation iterates this set.
func (r *AvailabilityRepository) ListAllPsychologistIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT psychologist_id FROM availability_blocks ORDER BY psychologist_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query); err != nil {
		return nil, fmt.Errorf("list psychologists with availability: %w", err)
	}
	return ids, nil
}
