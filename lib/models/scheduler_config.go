package models

import (
	"database/sql"
	"time"
)

// SchedulerConfig is a singleton row (id = 1) holding the scheduler state and
// cumulative run statistics. Counters survive stop/start cycles.
type SchedulerConfig struct {
	ID              uint `gorm:"primarykey"`
	IntervalMinutes int
	Enabled         bool
	LastRun         sql.NullTime
	NextRun         sql.NullTime
	TotalRuns       int
	TotalErrors     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
