package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

// ProfileRepository reads the child and psychologist reference records the
// booking path validates against.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository builds the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindChild loads a child reference.
func (r *ProfileRepository) FindChild(ctx context.Context, id string) (*models.Child, error) {
	const query = `SELECT id, parent_id, full_name FROM children WHERE id = $1`
	var child models.Child
	if err := sqlx.GetContext(ctx, r.db, &child, query, id); err != nil {
		return nil, err
	}
	return &child, nil
}

// FindPsychologist loads a provider reference.
func (r *ProfileRepository) FindPsychologist(ctx context.Context, id string) (*models.Psychologist, error) {
	const query = `
SELECT id, full_name, office_address, offers_online_sessions, offers_initial_consultation, marketplace_visible
FROM psychologists WHERE id = $1`
	var p models.Psychologist
	if err := sqlx.GetContext(ctx, r.db, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}
