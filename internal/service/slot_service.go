package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/export"
)

// SlotLister reads slot listings.
type SlotLister interface {
	ListAvailable(ctx context.Context, psychologistID string, from, to time.Time) ([]models.Slot, error)
}

// ListingCache is the Redis-backed cache for slot listings.
type ListingCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SlotCacheConfig tunes listing cache behaviour.
type SlotCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SlotService serves marketplace-facing slot listings with a short-TTL cache
// in front of the database. Listings tolerate a minute of staleness; the hold
// path itself always goes to locked rows.
type SlotService struct {
	slots  SlotLister
	cache  ListingCache
	cfg    SlotCacheConfig
	logger *zap.Logger
}

// NewSlotService builds the service.
func NewSlotService(slots SlotLister, cache ListingCache, cfg SlotCacheConfig, logger *zap.Logger) *SlotService {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &SlotService{slots: slots, cache: cache, cfg: cfg, logger: logger}
}

// ListAvailable returns a psychologist's bookable slots in [from, to].
func (s *SlotService) ListAvailable(ctx context.Context, psychologistID string, from, to time.Time) ([]models.Slot, error) {
	key := listingKey(psychologistID, from, to)

	if s.cacheEnabled() {
		var cached []models.Slot
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("slot cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	slots, err := s.slots.ListAvailable(ctx, psychologistID, from, to)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, key, slots, s.cfg.TTL); err != nil {
			s.logger.Warn("slot cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return slots, nil
}

// InvalidateListings drops all cached listings for one psychologist. Called
// after generation jobs change the slot pool.
func (s *SlotService) InvalidateListings(ctx context.Context, psychologistID string) {
	if !s.cacheEnabled() {
		return
	}
	pattern := fmt.Sprintf("slots:%s:*", psychologistID)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("slot cache invalidation failed",
			zap.String("psychologist_id", psychologistID),
			zap.Error(err))
	}
}

// ScheduleDataset shapes a psychologist's slots into a tabular dataset for
// PDF and CSV download.
func (s *SlotService) ScheduleDataset(ctx context.Context, psychologistID string, from, to time.Time) (*export.Dataset, error) {
	slots, err := s.slots.ListAvailable(ctx, psychologistID, from, to)
	if err != nil {
		return nil, err
	}

	ds := &export.Dataset{
		Headers: []string{"Date", "Start", "End", "State"},
	}
	for i := range slots {
		slot := &slots[i]
		ds.Rows = append(ds.Rows, map[string]string{
			"Date":  slot.SlotDate.Format("2006-01-02"),
			"Start": slot.StartTime,
			"End":   slot.EndTime,
			"State": string(slot.State),
		})
	}
	return ds, nil
}

func (s *SlotService) cacheEnabled() bool {
	return s.cfg.Enabled && s.cache != nil
}

func listingKey(psychologistID string, from, to time.Time) string {
	return fmt.Sprintf("slots:%s:%s:%s", psychologistID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}
