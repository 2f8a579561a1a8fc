package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/icalgen"
	"github.com/shiftschedule/solverapi/internal/publication"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

// FeedResult is everything the feed handler needs to answer one request.
type FeedResult struct {
	NotModified  bool
	ETag         string
	LastModified string
	Body         []byte
}

// FeedConfig tunes feed rendering.
type FeedConfig struct {
	CalendarName string
	CacheTTL     time.Duration
}

// FeedService renders public iCalendar feeds with conditional-request
// support. Rendered bytes are cached by ETag, so the expensive
// normalize-and-serialize path only runs when the underlying state or
// publication metadata actually changed.
type FeedService struct {
	schedule     *ScheduleService
	publications *PublicationService
	cache        *CacheService
	logger       *zap.Logger
	cfg          FeedConfig
}

// NewFeedService constructs the service.
func NewFeedService(schedule *ScheduleService, publications *PublicationService, cache *CacheService, cfg FeedConfig, logger *zap.Logger) *FeedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CalendarName == "" {
		cfg.CalendarName = "Shift Schedule"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &FeedService{
		schedule:     schedule,
		publications: publications,
		cache:        cache,
		logger:       logger,
		cfg:          cfg,
	}
}

// Resolve answers one feed request: token resolution, conditional-request
// evaluation, then cached or freshly rendered calendar bytes.
func (s *FeedService) Resolve(ctx context.Context, token, ifNoneMatch, ifModifiedSince string) (*FeedResult, error) {
	meta, clinicianID, err := s.publications.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	doc, stateUpdatedAt, err := s.schedule.GetDocument(ctx, meta.OwnerID)
	if err != nil {
		return nil, err
	}

	info := publication.ComputeCacheInfo(token, stateUpdatedAt, meta.UpdatedAt)
	result := &FeedResult{ETag: info.ETag, LastModified: info.LastModifiedHeader()}
	if info.NotModified(ifNoneMatch, ifModifiedSince) {
		result.NotModified = true
		return result, nil
	}

	cacheKey := "feed:" + info.ETag
	if s.cache != nil {
		var cached []byte
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			result.Body = cached
			return result, nil
		}
	}

	// A deterministic DTSTAMP keeps the rendered bytes stable for a given
	// ETag, so conditional requests and the byte cache agree.
	body := icalgen.Generate(doc, doc.PublishedWeeks, icalgen.Options{
		CalendarName:      s.cfg.CalendarName,
		FilterClinicianID: clinicianID,
		DTStamp:           info.LastModified,
	})
	result.Body = []byte(body)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, result.Body, s.cfg.CacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache feed bytes", "error", err)
		}
	}
	return result, nil
}

// Healthz verifies the feed dependencies are wired.
func (s *FeedService) Healthz() error {
	if s.schedule == nil || s.publications == nil {
		return appErrors.ErrInternal
	}
	return nil
}
