package cleanup

import (
	"context"

	"go.uber.org/zap"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/listings"
)

// Manager runs the two expiry sweeps. They stay separate operations on
// purpose: the unseen sweep runs after each tick to age out listings the
// search no longer returns, while the retention sweep is a periodic hard cap
// on row age.
type Manager struct {
	log   *zap.Logger
	store *listings.Store

	unseenDays    int
	retentionDays int
}

func NewManager(log *zap.Logger, cfg *config.Config, store *listings.Store) *Manager {
	return &Manager{
		log:           log,
		store:         store,
		unseenDays:    cfg.UnseenSweepDays,
		retentionDays: cfg.RetentionDays,
	}
}

// SweepUnseen removes listings not re-observed within thresholdDays (or ever),
// regardless of delivery state. thresholdDays <= 0 uses the configured
// default.
func (m *Manager) SweepUnseen(ctx context.Context, thresholdDays int) (*listings.ExpireResult, error) {
	if thresholdDays <= 0 {
		thresholdDays = m.unseenDays
	}

	res, err := m.store.Expire(ctx, thresholdDays, listings.ByLastSeen)
	if err != nil {
		return nil, err
	}
	if res.Removed > 0 {
		m.log.Sugar().Infow("Removed listings not seen recently",
			"removed", res.Removed, "threshold_days", thresholdDays, "by_source", res.BySource)
	}
	return res, nil
}

// SweepOld removes listings first collected before the retention ceiling,
// independent of observation recency. retentionDays <= 0 uses the configured
// default.
func (m *Manager) SweepOld(ctx context.Context, retentionDays int) (*listings.ExpireResult, error) {
	if retentionDays <= 0 {
		retentionDays = m.retentionDays
	}

	res, err := m.store.Expire(ctx, retentionDays, listings.ByFirstCollected)
	if err != nil {
		return nil, err
	}
	if res.Removed > 0 {
		m.log.Sugar().Infow("Removed listings past retention",
			"removed", res.Removed, "retention_days", retentionDays, "by_source", res.BySource)
	}
	return res, nil
}

// GetStats reports what the sweeps would currently touch.
func (m *Manager) GetStats(ctx context.Context) (*listings.Stats, error) {
	return m.store.GetStats(ctx)
}
