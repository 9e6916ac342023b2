package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// Listing is one discovered marketplace ad. URL is the dedup key: exactly one
// row per URL no matter how many runs rediscover it. Title/price/etc. are the
// first-seen snapshot and are never overwritten; rediscovery only refreshes
// LastSeenAt.
type Listing struct {
	gorm.Model
	URL         string `gorm:"uniqueIndex"`
	Title       string
	Price       string
	Location    string
	ImageURL    string
	Source      string `gorm:"index"`
	Keyword     string `gorm:"index"`
	CollectedAt time.Time
	LastSeenAt  sql.NullTime
	Notified    bool `gorm:"index"`
	NotifiedAt  sql.NullTime
}

type Listings []Listing

// Draft is an unpersisted candidate returned by one scraper run, prior to the
// dedup upsert. Field names follow the scraper's RESULT_JSON payload.
type Draft struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Location string `json:"location"`
	ImageURL string `json:"image_url"`
}
