package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shiftschedule/solverapi/internal/models"
)

// PublicationRepository persists feed publication tokens per owner.
type PublicationRepository struct {
	db *sqlx.DB
}

// NewPublicationRepository constructs the repository.
func NewPublicationRepository(db *sqlx.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

// GetByOwner returns the owner's publication record, or sql.ErrNoRows.
func (r *PublicationRepository) GetByOwner(ctx context.Context, ownerID string) (*models.SchedulePublication, error) {
	const query = `SELECT owner_id, owner_token, clinician_tokens, updated_at FROM schedule_publications WHERE owner_id = $1`
	var pub models.SchedulePublication
	if err := r.db.GetContext(ctx, &pub, query, ownerID); err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	return &pub, nil
}

// GetByToken resolves a feed token to its publication record, matching either
// the owner-wide token or any clinician token.
func (r *PublicationRepository) GetByToken(ctx context.Context, token string) (*models.SchedulePublication, error) {
	const query = `SELECT owner_id, owner_token, clinician_tokens, updated_at FROM schedule_publications
WHERE owner_token = $1
   OR EXISTS (SELECT 1 FROM jsonb_each_text(clinician_tokens) kv WHERE kv.value = $1)`
	var pub models.SchedulePublication
	if err := r.db.GetContext(ctx, &pub, query, token); err != nil {
		return nil, fmt.Errorf("get publication by token: %w", err)
	}
	return &pub, nil
}

// Upsert writes the owner's publication record.
func (r *PublicationRepository) Upsert(ctx context.Context, pub *models.SchedulePublication) error {
	if pub.UpdatedAt.IsZero() {
		pub.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_publications (owner_id, owner_token, clinician_tokens, updated_at)
VALUES (:owner_id, :owner_token, :clinician_tokens, :updated_at)
ON CONFLICT (owner_id) DO UPDATE SET owner_token = EXCLUDED.owner_token,
	clinician_tokens = EXCLUDED.clinician_tokens, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pub); err != nil {
		return fmt.Errorf("upsert publication: %w", err)
	}
	return nil
}

// Delete removes the owner's publication record.
func (r *PublicationRepository) Delete(ctx context.Context, ownerID string) error {
	const query = `DELETE FROM schedule_publications WHERE owner_id = $1`
	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("delete publication: %w", err)
	}
	return nil
}
