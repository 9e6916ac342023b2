package notify

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/cleanup"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
	"github.com/adscout/adscout/senders"
)

type fakeSender struct {
	sent      []string
	summaries []senders.Summary
	failURLs  map[string]bool
}

func (f *fakeSender) SendListing(ctx context.Context, l *models.Listing) error {
	if f.failURLs[l.URL] {
		return errors.New("sink unavailable")
	}
	f.sent = append(f.sent, l.URL)
	return nil
}

func (f *fakeSender) SendSummary(ctx context.Context, s senders.Summary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeSender, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Listing{}))

	log := zap.NewNop()
	store := listings.NewStore(log, db)
	sweeper := cleanup.NewManager(log, &config.Config{UnseenSweepDays: 7, RetentionDays: 30}, store)

	sink := &fakeSender{failURLs: map[string]bool{}}
	d := &Dispatcher{
		log:      log,
		store:    store,
		senders:  senders.Registry{"telegram": sink},
		sweeper:  sweeper,
		platform: "telegram",
	}
	return d, sink, db
}

// seed inserts an undelivered listing; image_url is set so delivery never
// reaches out for a preview.
func seed(t *testing.T, db *gorm.DB, url string, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	row := models.Listing{
		URL:         url,
		Title:       "Honda CG",
		ImageURL:    "https://img.example/a.jpg",
		Source:      models.SourceOLX,
		Keyword:     "honda cg",
		CollectedAt: now.Add(-age),
		LastSeenAt:  sql.NullTime{Time: now, Valid: true},
	}
	require.NoError(t, db.Create(&row).Error)
}

func TestDrainDeliversOldestFirst(t *testing.T) {
	ctx := context.Background()
	d, sink, db := newTestDispatcher(t)

	seed(t, db, "https://olx.pl/oldest", 3*time.Hour)
	seed(t, db, "https://olx.pl/middle", 2*time.Hour)
	seed(t, db, "https://olx.pl/newest", 1*time.Hour)

	delivered, err := d.DrainAndNotify(ctx, models.SourceOLX, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.Equal(t, []string{
		"https://olx.pl/oldest",
		"https://olx.pl/middle",
		"https://olx.pl/newest",
	}, sink.sent)
}

func TestDrainMarksOnlyConfirmedDeliveries(t *testing.T) {
	ctx := context.Background()
	d, sink, db := newTestDispatcher(t)

	seed(t, db, "https://olx.pl/ok", 2*time.Hour)
	seed(t, db, "https://olx.pl/flaky", 1*time.Hour)
	sink.failURLs["https://olx.pl/flaky"] = true

	delivered, err := d.DrainAndNotify(ctx, models.SourceOLX, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	// The failed item stays queued for the next cycle; the confirmed one is
	// never re-sent.
	sink.failURLs = map[string]bool{}
	delivered, err = d.DrainAndNotify(ctx, models.SourceOLX, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"https://olx.pl/ok", "https://olx.pl/flaky"}, sink.sent)

	delivered, err = d.DrainAndNotify(ctx, models.SourceOLX, 0)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestDrainHonorsBatchLimit(t *testing.T) {
	ctx := context.Background()
	d, sink, db := newTestDispatcher(t)

	seed(t, db, "https://olx.pl/old", 2*time.Hour)
	seed(t, db, "https://olx.pl/new", 1*time.Hour)

	// With limit 1 the newest undelivered listing wins the batch slot.
	delivered, err := d.DrainAndNotify(ctx, models.SourceOLX, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"https://olx.pl/new"}, sink.sent)
}

func TestDrainUnknownPlatform(t *testing.T) {
	ctx := context.Background()
	d, _, db := newTestDispatcher(t)
	d.platform = "pigeon"

	seed(t, db, "https://olx.pl/a", time.Hour)

	delivered, err := d.DrainAndNotify(ctx, models.SourceOLX, 0)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestExtractImageURL(t *testing.T) {
	page := `<html><head>
		<meta name="twitter:image" content="https://img.example/tw.jpg">
		<meta property="og:image" content="https://img.example/og.jpg">
	</head><body></body></html>`

	doc, err := htmlquery.Parse(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/og.jpg", ExtractImageURL(doc))

	onlyTwitter := `<html><head><meta name="twitter:image" content="https://img.example/tw.jpg"></head></html>`
	doc, err = htmlquery.Parse(strings.NewReader(onlyTwitter))
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/tw.jpg", ExtractImageURL(doc))

	doc, err = htmlquery.Parse(strings.NewReader("<html><head></head></html>"))
	require.NoError(t, err)
	assert.Empty(t, ExtractImageURL(doc))
}
