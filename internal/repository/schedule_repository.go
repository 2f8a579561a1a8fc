package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shiftschedule/solverapi/internal/models"
)

// ScheduleRepository persists one schedule document blob per owner.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Get returns the owner's schedule state, or sql.ErrNoRows when none exists.
func (r *ScheduleRepository) Get(ctx context.Context, ownerID string) (*models.ScheduleState, error) {
	const query = `SELECT owner_id, document, updated_at FROM schedule_states WHERE owner_id = $1`
	var state models.ScheduleState
	if err := r.db.GetContext(ctx, &state, query, ownerID); err != nil {
		return nil, fmt.Errorf("get schedule state: %w", err)
	}
	return &state, nil
}

// Upsert writes the owner's document blob, creating the row on first write.
func (r *ScheduleRepository) Upsert(ctx context.Context, state *models.ScheduleState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_states (owner_id, document, updated_at)
VALUES (:owner_id, :document, :updated_at)
ON CONFLICT (owner_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("upsert schedule state: %w", err)
	}
	return nil
}

// Delete removes the owner's schedule state (owner deletion cascade).
func (r *ScheduleRepository) Delete(ctx context.Context, ownerID string) error {
	const query = `DELETE FROM schedule_states WHERE owner_id = $1`
	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("delete schedule state: %w", err)
	}
	return nil
}
