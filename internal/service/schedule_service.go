package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

type scheduleStore interface {
	Get(ctx context.Context, ownerID string) (*models.ScheduleState, error)
	Upsert(ctx context.Context, state *models.ScheduleState) error
	Delete(ctx context.Context, ownerID string) error
}

// ScheduleService owns the schedule document lifecycle: first-access
// seeding, canonicalization of whatever shape was last persisted, and owner
// writes. Every read hands back a normalized snapshot; the stored blob is
// upgraded in place the first time a legacy shape is seen.
type ScheduleService struct {
	repo   scheduleStore
	logger *zap.Logger
}

// NewScheduleService constructs the service.
func NewScheduleService(repo scheduleStore, logger *zap.Logger) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, logger: logger}
}

// GetDocument loads and normalizes the owner's schedule document, seeding an
// empty one on first access. When normalization changed the persisted shape
// the canonical form is written back so future reads are no-ops.
func (s *ScheduleService) GetDocument(ctx context.Context, ownerID string) (*scheduledoc.Document, time.Time, error) {
	state, err := s.repo.Get(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule state")
		}
		return s.seed(ctx, ownerID)
	}

	doc, changed, err := scheduledoc.Normalize([]byte(state.Document))
	if err != nil {
		return nil, time.Time{}, appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, "stored schedule document failed validation")
	}
	if changed {
		if err := s.persist(ctx, ownerID, doc); err != nil {
			return nil, time.Time{}, err
		}
		s.logger.Sugar().Infow("schedule document upgraded to canonical form", "owner_id", ownerID)
		return doc, time.Now().UTC(), nil
	}
	return doc, state.UpdatedAt, nil
}

// SaveDocument validates and canonicalizes an owner write, rejecting
// structurally invalid payloads without persisting anything.
func (s *ScheduleService) SaveDocument(ctx context.Context, ownerID string, raw json.RawMessage) (*scheduledoc.Document, error) {
	doc, _, err := scheduledoc.Normalize(raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, "schedule document failed validation")
	}
	if err := s.persist(ctx, ownerID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ApplyAssignments appends solver-produced assignments to the owner's
// document. Existing assignments with the same id are replaced, so replaying
// a solve response is idempotent.
func (s *ScheduleService) ApplyAssignments(ctx context.Context, ownerID string, assignments []scheduledoc.Assignment) (*scheduledoc.Document, error) {
	doc, _, err := s.GetDocument(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(doc.Assignments))
	for i, a := range doc.Assignments {
		byID[a.ID] = i
	}
	for _, a := range assignments {
		if i, ok := byID[a.ID]; ok {
			doc.Assignments[i] = a
			continue
		}
		byID[a.ID] = len(doc.Assignments)
		doc.Assignments = append(doc.Assignments, a)
	}
	if err := s.persist(ctx, ownerID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SetWeekPublished adds or removes one Monday from the published-weeks set.
func (s *ScheduleService) SetWeekPublished(ctx context.Context, ownerID, weekISO string, published bool) (*scheduledoc.Document, error) {
	monday, err := timeutil.WeekStartISO(weekISO)
	if err != nil || monday != weekISO {
		return nil, appErrors.Clone(appErrors.ErrValidation, "week must be the Monday of an ISO week")
	}
	doc, _, err := s.GetDocument(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	weeks := doc.PublishedWeeks[:0]
	found := false
	for _, w := range doc.PublishedWeeks {
		if w == weekISO {
			found = true
			if !published {
				continue
			}
		}
		weeks = append(weeks, w)
	}
	if published && !found {
		weeks = append(weeks, weekISO)
	}
	doc.PublishedWeeks = weeks
	// Re-normalize to restore sort order before persisting.
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode schedule document")
	}
	doc, _, err = scheduledoc.Normalize(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, "schedule document failed validation")
	}
	if err := s.persist(ctx, ownerID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes the owner's schedule state entirely.
func (s *ScheduleService) DeleteDocument(ctx context.Context, ownerID string) error {
	if err := s.repo.Delete(ctx, ownerID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule state")
	}
	return nil
}

func (s *ScheduleService) seed(ctx context.Context, ownerID string) (*scheduledoc.Document, time.Time, error) {
	doc, _, err := scheduledoc.Normalize(nil)
	if err != nil {
		return nil, time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed schedule document")
	}
	if err := s.persist(ctx, ownerID, doc); err != nil {
		return nil, time.Time{}, err
	}
	return doc, time.Now().UTC(), nil
}

func (s *ScheduleService) persist(ctx context.Context, ownerID string, doc *scheduledoc.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode schedule document")
	}
	state := &models.ScheduleState{
		OwnerID:   ownerID,
		Document:  models.ScheduleDocument(data),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.Upsert(ctx, state); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist schedule state")
	}
	return nil
}
