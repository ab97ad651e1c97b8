package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/models"
	"branch-ops-service/internal/redisclient"
	"branch-ops-service/internal/store"
	"branch-ops-service/internal/util"

	"go.uber.org/zap"
)

// SettingsSource is the durable home of branch settings
type SettingsSource interface {
	GetBranchSettings(ctx context.Context, branchID string) (*models.BranchSettings, error)
	ListBranchSettings(ctx context.Context) ([]models.BranchSettings, error)
}

// SettingsCache is the shared cache in front of SettingsSource
type SettingsCache interface {
	GetBranchSettings(ctx context.Context, branchID string) (*models.BranchSettings, error)
	SetBranchSettings(ctx context.Context, settings *models.BranchSettings, ttl time.Duration) error
}

// BranchConfigClient serves branch defaults to the aggregator from memory,
// filled from Redis and the database.
type BranchConfigClient struct {
	source   SettingsSource
	cache    SettingsCache
	cacheTTL time.Duration
	defaults aggregator.BranchDefaults
	logger   *zap.Logger

	mu       sync.RWMutex
	known    map[string]aggregator.BranchDefaults
	inFlight map[string]bool

	onUpdate func(branchID string, d aggregator.BranchDefaults)
}

// NewBranchConfigClient creates a new branch config client. cache may be nil.
func NewBranchConfigClient(source SettingsSource, cache SettingsCache, cacheTTL time.Duration, defaults aggregator.BranchDefaults) *BranchConfigClient {
	return &BranchConfigClient{
		source:   source,
		cache:    cache,
		cacheTTL: cacheTTL,
		defaults: defaults,
		logger:   util.GetLogger(),
		known:    make(map[string]aggregator.BranchDefaults),
		inFlight: make(map[string]bool),
	}
}

// OnUpdate registers a callback invoked when settings for a branch are loaded
// after its first lookup.
func (bc *BranchConfigClient) OnUpdate(fn func(branchID string, d aggregator.BranchDefaults)) {
	bc.mu.Lock()
	bc.onUpdate = fn
	bc.mu.Unlock()
}

// Lookup implements aggregator.BranchLookup. It never blocks on I/O; unknown
// branches get the configured defaults and a background refresh.
func (bc *BranchConfigClient) Lookup(branchID string) aggregator.BranchDefaults {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if d, ok := bc.known[branchID]; ok {
		return d
	}
	if !bc.inFlight[branchID] {
		bc.inFlight[branchID] = true
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := bc.Refresh(ctx, branchID); err != nil {
				bc.logger.Warn("Branch settings unavailable, using defaults",
					zap.String("branch_id", branchID),
					zap.Error(err))
			}
		}()
	}
	return bc.defaults
}

// Refresh loads one branch's settings, Redis first, then the database
func (bc *BranchConfigClient) Refresh(ctx context.Context, branchID string) error {
	ctx, span := util.StartSpan(ctx, "BranchConfigClient.Refresh")
	defer span.End()

	defer func() {
		bc.mu.Lock()
		delete(bc.inFlight, branchID)
		bc.mu.Unlock()
	}()

	settings, err := bc.fetch(ctx, branchID)
	if err != nil {
		return err
	}

	bc.mu.Lock()
	bc.known[branchID] = bc.toDefaults(settings)
	callback := bc.onUpdate
	bc.mu.Unlock()

	if callback != nil {
		callback(branchID, bc.toDefaults(settings))
	}
	return nil
}

func (bc *BranchConfigClient) fetch(ctx context.Context, branchID string) (*models.BranchSettings, error) {
	if bc.cache != nil {
		settings, err := bc.cache.GetBranchSettings(ctx, branchID)
		if err == nil {
			return settings, nil
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			bc.logger.Warn("Redis branch settings read failed, falling back to DB",
				zap.String("branch_id", branchID),
				zap.Error(err))
		}
	}

	settings, err := bc.source.GetBranchSettings(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: branch settings %s", ErrNotFound, branchID)
		}
		return nil, fmt.Errorf("failed to load branch settings: %w", err)
	}

	bc.cacheSettings(ctx, settings)
	return settings, nil
}

// Warm loads every branch's settings from the database into Redis and memory
func (bc *BranchConfigClient) Warm(ctx context.Context) error {
	bc.logger.Info("Starting branch settings warm-up")

	all, err := bc.source.ListBranchSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to list branch settings: %w", err)
	}

	bc.mu.Lock()
	for i := range all {
		bc.known[all[i].BranchID] = bc.toDefaults(&all[i])
	}
	bc.mu.Unlock()

	for i := range all {
		bc.cacheSettings(ctx, &all[i])
	}

	bc.logger.Info("Branch settings warm-up completed", zap.Int("count", len(all)))
	return nil
}

func (bc *BranchConfigClient) cacheSettings(ctx context.Context, settings *models.BranchSettings) {
	if bc.cache == nil {
		return
	}
	if err := bc.cache.SetBranchSettings(ctx, settings, bc.cacheTTL); err != nil {
		bc.logger.Error("Failed to cache branch settings",
			zap.String("branch_id", settings.BranchID),
			zap.Error(err))
	}
}

// toDefaults fills unset values from the configured defaults
func (bc *BranchConfigClient) toDefaults(s *models.BranchSettings) aggregator.BranchDefaults {
	d := bc.defaults
	if s.TotalTables > 0 {
		d.TotalTables = s.TotalTables
	}
	if s.TotalEmployees > 0 {
		d.TotalEmployees = s.TotalEmployees
	}
	if s.KitchenTargetMinutes > 0 {
		d.KitchenTargetMinutes = s.KitchenTargetMinutes
	}
	if s.ServiceTargetMinutes > 0 {
		d.ServiceTargetMinutes = s.ServiceTargetMinutes
	}
	if s.DeliveryTargetMinutes > 0 {
		d.DeliveryTargetMinutes = s.DeliveryTargetMinutes
	}
	return d
}
