package senders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adscout/adscout/lib/models"
)

func TestFormatListing(t *testing.T) {
	msg := FormatListing(&models.Listing{
		URL:      "https://olx.pl/a",
		Title:    "Honda CG 125",
		Price:    "4500 zł",
		Location: "Kraków",
		Source:   models.SourceOLX,
		Keyword:  "honda cg",
	})

	assert.Contains(t, msg, "*Honda CG 125*")
	assert.Contains(t, msg, "4500 zł")
	assert.Contains(t, msg, "Kraków")
	assert.Contains(t, msg, "honda cg (olx)")
	assert.True(t, len(msg) > 0 && msg[len(msg)-len("https://olx.pl/a"):] == "https://olx.pl/a",
		"URL should close the message on its own line")
}

func TestFormatListingOmitsEmptyFields(t *testing.T) {
	msg := FormatListing(&models.Listing{
		URL:     "https://olx.pl/a",
		Title:   "Honda CG",
		Source:  models.SourceOLX,
		Keyword: "honda cg",
	})
	assert.NotContains(t, msg, "💰")
	assert.NotContains(t, msg, "📍")
}

func TestFormatListingEscapesMarkdown(t *testing.T) {
	msg := FormatListing(&models.Listing{
		URL:     "https://olx.pl/a",
		Title:   "Honda *CG* [okazja]_",
		Source:  models.SourceOLX,
		Keyword: "honda cg",
	})
	assert.Contains(t, msg, `Honda \*CG\* \[okazja]\_`)
}

func TestFormatSummary(t *testing.T) {
	msg := FormatSummary(Summary{
		Source:   models.SourceOLX,
		Keywords: 3,
		Found:    12,
		New:      2,
		Duration: 90 * time.Second,
	})
	assert.Contains(t, msg, "olx")
	assert.Contains(t, msg, "Keywords: 3")
	assert.Contains(t, msg, "Found: 12")
	assert.Contains(t, msg, "New: 2")
	assert.Contains(t, msg, "90.0s")
}
