package runner

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
	"github.com/adscout/adscout/lib/creds"
	"github.com/adscout/adscout/lib/keywords"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
)

const resultLine = `RESULT_JSON:{"found":2,"saved":2,"listings":[` +
	`{"url":"https://olx.pl/a","title":"Honda CG 125","price":"4500 zł","location":"Kraków"},` +
	`{"url":"https://olx.pl/b","title":"Honda CG 150"}]}`

// newTestExecutor wires an executor whose "scraper" is a shell one-liner. The
// executor appends the search term as the last argument, which sh -c ignores.
func newTestExecutor(t *testing.T, script string) (*Executor, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Keyword{}, &models.Listing{}, &models.RunRecord{}, &models.Credential{},
	))

	cfg := &config.Config{MaxKeywords: 10}
	cfg.Scrapers.OLXCommand = []string{"/bin/sh", "-c", script}
	cfg.Scrapers.OLXTimeout = 5 * time.Second
	cfg.Scrapers.FacebookTimeout = 5 * time.Second

	log := zap.NewNop()
	store := listings.NewStore(log, db)
	registry := keywords.NewRegistry(log, cfg, db)
	credStore := creds.NewStore(log, cfg, db)
	require.NoError(t, registry.Register(context.Background(), "honda cg", "both", 1))

	return NewExecutor(log, cfg, db, store, registry, credStore), db
}

func TestExecuteSuccessPersistsListings(t *testing.T) {
	ctx := context.Background()
	e, db := newTestExecutor(t, "echo 'some log noise'; echo '"+resultLine+"'")

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunSuccess, out.Status)
	assert.Equal(t, 2, out.Found)
	assert.Equal(t, 2, out.New)
	assert.NotEmpty(t, out.RunID)

	var rows []models.Listing
	require.NoError(t, db.Order("url asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "Honda CG 125", rows[0].Title)
	assert.Equal(t, models.SourceOLX, rows[0].Source)
	assert.Equal(t, "honda cg", rows[0].Keyword)
	assert.False(t, rows[0].Notified)
	// A run's own listings count as seen in the same pass.
	assert.True(t, rows[0].LastSeenAt.Valid)

	var kw models.Keyword
	require.NoError(t, db.Where("term = ?", "honda cg").First(&kw).Error)
	assert.Equal(t, 2, kw.TotalFound)
	assert.True(t, kw.LastRunAt.Valid)

	var rec models.RunRecord
	require.NoError(t, db.Where("run_id = ?", out.RunID).First(&rec).Error)
	assert.Equal(t, models.RunSuccess, rec.Status)
	assert.Equal(t, 2, rec.Found)
	assert.Equal(t, 2, rec.New)
}

func TestExecuteRepeatRunFindsNothingNew(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestExecutor(t, "echo '"+resultLine+"'")

	first := e.Execute(ctx, "honda cg", models.SourceOLX)
	require.Equal(t, 2, first.New)

	second := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunSuccess, second.Status)
	assert.Equal(t, 2, second.Found)
	assert.Equal(t, 0, second.New)
}

func TestExecuteTimeoutDiscardsOutput(t *testing.T) {
	ctx := context.Background()
	e, db := newTestExecutor(t, "echo '"+resultLine+"'; sleep 10")
	e.cfg.Scrapers.OLXTimeout = 100 * time.Millisecond

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunTimeout, out.Status)
	assert.Equal(t, "Timeout", out.Message)
	assert.Zero(t, out.Found)

	// Output from the killed process is not trusted.
	var count int64
	require.NoError(t, db.Model(&models.Listing{}).Count(&count).Error)
	assert.Zero(t, count)

	var rec models.RunRecord
	require.NoError(t, db.Where("run_id = ?", out.RunID).First(&rec).Error)
	assert.Equal(t, models.RunTimeout, rec.Status)
}

func TestExecuteErrorExitKeepsPartialResults(t *testing.T) {
	ctx := context.Background()
	e, db := newTestExecutor(t, "echo '"+resultLine+"'; echo 'rate limited' >&2; exit 3")

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunError, out.Status)
	assert.Contains(t, out.Message, "rate limited")
	assert.Equal(t, 2, out.Found)
	assert.Equal(t, 2, out.New)

	var count int64
	require.NoError(t, db.Model(&models.Listing{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestExecuteErrorExitWithoutPayload(t *testing.T) {
	ctx := context.Background()
	e, db := newTestExecutor(t, "echo 'boom' >&2; exit 1")

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunError, out.Status)
	assert.Contains(t, out.Message, "boom")
	assert.Zero(t, out.Found)

	var count int64
	require.NoError(t, db.Model(&models.Listing{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExecuteCleanExitWithoutPayload(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestExecutor(t, "echo 'nothing today'")

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunSuccess, out.Status)
	assert.Zero(t, out.Found)
	assert.Zero(t, out.New)
}

func TestExecuteUnconfiguredSource(t *testing.T) {
	ctx := context.Background()
	e, db := newTestExecutor(t, "true")

	out := e.Execute(ctx, "honda cg", models.SourceFacebook)
	assert.Equal(t, models.RunError, out.Status)
	assert.Contains(t, out.Message, "no scraper command configured")

	var rec models.RunRecord
	require.NoError(t, db.Where("run_id = ?", out.RunID).First(&rec).Error)
	assert.Equal(t, models.RunError, rec.Status)
}

func TestExecuteSkipsDraftsWithoutURL(t *testing.T) {
	ctx := context.Background()
	line := `RESULT_JSON:{"found":2,"saved":1,"listings":[{"url":"","title":"no url"},{"url":"https://olx.pl/a","title":"ok"}]}`
	e, db := newTestExecutor(t, "echo '"+line+"'")

	out := e.Execute(ctx, "honda cg", models.SourceOLX)
	assert.Equal(t, models.RunSuccess, out.Status)
	assert.Equal(t, 2, out.Found)
	assert.Equal(t, 1, out.New)

	var count int64
	require.NoError(t, db.Model(&models.Listing{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestParseResult(t *testing.T) {
	p, ok := parseResult([]byte("noise\n" + resultLine + "\ntrailing\n"))
	require.True(t, ok)
	assert.Equal(t, 2, p.Found)
	require.Len(t, p.Listings, 2)
	assert.Equal(t, "https://olx.pl/a", p.Listings[0].URL)

	_, ok = parseResult([]byte("no tagged line here\n"))
	assert.False(t, ok)

	_, ok = parseResult([]byte("RESULT_JSON:{not json\n"))
	assert.False(t, ok)
}
