package listings

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adscout/adscout/lib/models"
)

// Basis selects which timestamp an expiry sweep compares against.
type Basis string

const (
	// ByLastSeen removes listings not re-observed recently; a row that was
	// never re-observed counts as perpetually stale.
	ByLastSeen Basis = "last_seen"
	// ByFirstCollected is the hard retention cap on row age.
	ByFirstCollected Basis = "first_collected"
)

// Store is the dedup and freshness ledger for discovered listings. URL
// uniqueness is the single source of truth for dedup: two sources can surface
// the same item under different scrape metadata, so no other field
// combination may be used.
type Store struct {
	log *zap.Logger
	db  *gorm.DB
}

func NewStore(log *zap.Logger, db *gorm.DB) *Store {
	return &Store{log: log, db: db}
}

// Upsert inserts a draft unless its URL is already known. On conflict only
// LastSeenAt is refreshed; the first-seen snapshot fields stay authoritative.
// Returns whether a new row was created.
func (s *Store) Upsert(ctx context.Context, draft models.Draft, source, keyword string) (bool, error) {
	now := time.Now().UTC()
	listing := models.Listing{
		URL:         draft.URL,
		Title:       draft.Title,
		Price:       draft.Price,
		Location:    draft.Location,
		ImageURL:    draft.ImageURL,
		Source:      source,
		Keyword:     keyword,
		CollectedAt: now,
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&listing)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	tx = s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("url = ?", draft.URL).
		Update("last_seen_at", now)
	return false, tx.Error
}

// Undelivered returns listings not yet pushed to the notification sink, most
// recently collected first. An empty source means all sources; limit <= 0
// means no limit.
func (s *Store) Undelivered(ctx context.Context, source string, limit int) (models.Listings, error) {
	q := s.db.WithContext(ctx).
		Where("notified = ?", false).
		Order("collected_at desc")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var batch models.Listings
	if err := q.Find(&batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// MarkDelivered flips the delivered flag for the given ids. Already-delivered
// ids contribute 0 to the returned count, which makes a crashed delivery
// batch safe to retry without double notification.
func (s *Store) MarkDelivered(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id IN ? AND notified = ?", ids, false).
		Updates(map[string]any{
			"notified":    true,
			"notified_at": time.Now().UTC(),
		})
	return tx.RowsAffected, tx.Error
}

// MarkSeen bulk-refreshes LastSeenAt for the URLs one job run returned. This
// is what lets the unseen sweep distinguish "still listed" from "gone".
func (s *Store) MarkSeen(ctx context.Context, urls []string, source string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("url IN ? AND source = ?", urls, source).
		Update("last_seen_at", time.Now().UTC())
	return tx.RowsAffected, tx.Error
}

// Recent returns the most recently collected listings regardless of delivery
// state, for operator browsing. An empty source means all sources.
func (s *Store) Recent(ctx context.Context, source string, limit int) (models.Listings, error) {
	q := s.db.WithContext(ctx).Order("collected_at desc")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows models.Listings
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type ExpireResult struct {
	Removed  int64            `json:"removed"`
	BySource map[string]int64 `json:"by_source"`
}

// Expire deletes listings whose basis timestamp predates now - olderThanDays,
// regardless of delivery state. With the ByLastSeen basis, a NULL LastSeenAt
// is eligible immediately.
func (s *Store) Expire(ctx context.Context, olderThanDays int, basis Basis) (*ExpireResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	var cond string
	switch basis {
	case ByFirstCollected:
		cond = "collected_at < ?"
	default:
		cond = "last_seen_at IS NULL OR last_seen_at < ?"
	}

	bySource, err := s.countBySource(ctx, cond, cutoff)
	if err != nil {
		return nil, err
	}

	// Sweeps are destructive and non-recoverable, so bypass gorm's soft
	// delete: a tombstoned URL would block rediscovery of the same item.
	tx := s.db.WithContext(ctx).Unscoped().Where(cond, cutoff).Delete(&models.Listing{})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &ExpireResult{Removed: tx.RowsAffected, BySource: bySource}, nil
}

func (s *Store) countBySource(ctx context.Context, cond string, args ...any) (map[string]int64, error) {
	var rows []struct {
		Source string
		N      int64
	}
	tx := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Select("source, count(*) as n").
		Where(cond, args...).
		Group("source").
		Scan(&rows)
	if tx.Error != nil {
		return nil, tx.Error
	}

	bySource := make(map[string]int64, len(rows))
	for _, row := range rows {
		bySource[row.Source] = row.N
	}
	return bySource, nil
}

type Stats struct {
	Total      int64            `json:"total"`
	NeverSeen  int64            `json:"never_seen"`
	NotSeen7d  int64            `json:"not_seen_7_days"`
	NotSeen30d int64            `json:"not_seen_30_days"`
	BySource   map[string]int64 `json:"by_source"`
}

// GetStats reports how much of the store an expiry sweep would touch.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.WithContext(ctx).Model(&models.Listing{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("last_seen_at IS NULL").
		Count(&stats.NeverSeen).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, c := range []struct {
		days int
		dst  *int64
	}{
		{7, &stats.NotSeen7d},
		{30, &stats.NotSeen30d},
	} {
		cutoff := now.AddDate(0, 0, -c.days)
		err := s.db.WithContext(ctx).
			Model(&models.Listing{}).
			Where("last_seen_at IS NULL OR last_seen_at < ?", cutoff).
			Count(c.dst).Error
		if err != nil {
			return nil, err
		}
	}

	bySource, err := s.countBySource(ctx, "1 = 1")
	if err != nil {
		return nil, err
	}
	stats.BySource = bySource
	return stats, nil
}
