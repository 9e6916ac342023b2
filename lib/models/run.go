package models

import "time"

const (
	RunSuccess = "success"
	RunError   = "error"
	RunTimeout = "timeout"
)

// RunRecord is the append-only audit trail of scraper executions, one row per
// (keyword, source) invocation. Never mutated after the run finishes and
// never consulted for correctness decisions.
type RunRecord struct {
	ID           uint `gorm:"primarykey"`
	RunID        string
	Source       string
	Keyword      string
	Status       string
	Found        int
	New          int
	Message      string
	DurationSecs float64
	StartedAt    time.Time
	FinishedAt   time.Time
}
