package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
)

func newTestManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Listing{}))

	cfg := &config.Config{UnseenSweepDays: 7, RetentionDays: 30}
	store := listings.NewStore(zap.NewNop(), db)
	return NewManager(zap.NewNop(), cfg, store), db
}

func seedListing(t *testing.T, db *gorm.DB, url string, collected time.Time, lastSeen *time.Time) {
	t.Helper()
	row := models.Listing{URL: url, Title: "x", Source: models.SourceOLX, Keyword: "honda cg", CollectedAt: collected}
	if lastSeen != nil {
		row.LastSeenAt.Time = *lastSeen
		row.LastSeenAt.Valid = true
	}
	require.NoError(t, db.Create(&row).Error)
}

func TestSweepUnseenUsesConfiguredDefault(t *testing.T) {
	ctx := context.Background()
	m, db := newTestManager(t)

	now := time.Now().UTC()
	fresh := now.AddDate(0, 0, -2)
	stale := now.AddDate(0, 0, -8)
	seedListing(t, db, "https://olx.pl/fresh", now, &fresh)
	seedListing(t, db, "https://olx.pl/stale", now, &stale)

	// Zero falls back to the 7 day default.
	res, err := m.SweepUnseen(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)
}

func TestSweepUnseenExplicitThreshold(t *testing.T) {
	ctx := context.Background()
	m, db := newTestManager(t)

	now := time.Now().UTC()
	seen := now.AddDate(0, 0, -2)
	seedListing(t, db, "https://olx.pl/a", now, &seen)

	res, err := m.SweepUnseen(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)
}

func TestSweepOld(t *testing.T) {
	ctx := context.Background()
	m, db := newTestManager(t)

	now := time.Now().UTC()
	seedListing(t, db, "https://olx.pl/ancient", now.AddDate(0, 0, -31), &now)
	seedListing(t, db, "https://olx.pl/recent", now.AddDate(0, 0, -5), &now)

	res, err := m.SweepOld(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
}
