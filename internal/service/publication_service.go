package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/publication"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

type publicationStore interface {
	GetByOwner(ctx context.Context, ownerID string) (*models.SchedulePublication, error)
	GetByToken(ctx context.Context, token string) (*models.SchedulePublication, error)
	Upsert(ctx context.Context, pub *models.SchedulePublication) error
	Delete(ctx context.Context, ownerID string) error
}

// PublicationService manages the feed tokens that expose a published
// schedule to anonymous calendar clients.
type PublicationService struct {
	repo   publicationStore
	logger *zap.Logger
}

// NewPublicationService constructs the service.
func NewPublicationService(repo publicationStore, logger *zap.Logger) *PublicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicationService{repo: repo, logger: logger}
}

// GetOrCreate returns the owner's publication metadata, minting the
// owner-wide token on first access.
func (s *PublicationService) GetOrCreate(ctx context.Context, ownerID string) (*publication.Metadata, error) {
	record, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load publication metadata")
		}
		meta := &publication.Metadata{OwnerID: ownerID, UpdatedAt: time.Now().UTC()}
		meta.OwnerToken = publication.NewToken()
		if err := s.save(ctx, meta); err != nil {
			return nil, err
		}
		return meta, nil
	}
	return toMetadata(record), nil
}

// Rotate replaces the owner-wide token, invalidating the previous public
// link.
func (s *PublicationService) Rotate(ctx context.Context, ownerID string) (string, error) {
	meta, err := s.GetOrCreate(ctx, ownerID)
	if err != nil {
		return "", err
	}
	token := meta.Rotate(time.Now())
	if err := s.save(ctx, meta); err != nil {
		return "", err
	}
	s.logger.Sugar().Infow("publication token rotated", "owner_id", ownerID)
	return token, nil
}

// RotateClinician mints or replaces one clinician's filtered feed token.
func (s *PublicationService) RotateClinician(ctx context.Context, ownerID, clinicianID string) (string, error) {
	if clinicianID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "clinicianId required")
	}
	meta, err := s.GetOrCreate(ctx, ownerID)
	if err != nil {
		return "", err
	}
	token := meta.RotateClinician(clinicianID, time.Now())
	if err := s.save(ctx, meta); err != nil {
		return "", err
	}
	s.logger.Sugar().Infow("clinician feed token rotated", "owner_id", ownerID, "clinician_id", clinicianID)
	return token, nil
}

// ResolveToken maps a presented feed token to its owner and optional
// clinician filter.
func (s *PublicationService) ResolveToken(ctx context.Context, token string) (*publication.Metadata, string, error) {
	record, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.ErrNotFound
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve feed token")
	}
	meta := toMetadata(record)
	clinicianID, ok := meta.Resolve(token)
	if !ok {
		return nil, "", appErrors.ErrNotFound
	}
	return meta, clinicianID, nil
}

// Delete removes the owner's publication metadata (owner deletion cascade).
func (s *PublicationService) Delete(ctx context.Context, ownerID string) error {
	if err := s.repo.Delete(ctx, ownerID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete publication metadata")
	}
	return nil
}

func (s *PublicationService) save(ctx context.Context, meta *publication.Metadata) error {
	record := &models.SchedulePublication{
		OwnerID:         meta.OwnerID,
		OwnerToken:      meta.OwnerToken,
		ClinicianTokens: models.ClinicianTokenMap(meta.ClinicianTokens),
		UpdatedAt:       meta.UpdatedAt,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist publication metadata")
	}
	return nil
}

func toMetadata(record *models.SchedulePublication) *publication.Metadata {
	return &publication.Metadata{
		OwnerID:         record.OwnerID,
		OwnerToken:      record.OwnerToken,
		ClinicianTokens: map[string]string(record.ClinicianTokens),
		UpdatedAt:       record.UpdatedAt,
	}
}
