package models

import (
	"database/sql"

	"gorm.io/gorm"
)

// Keyword is a registered search term. Rows are soft-deleted by flipping
// Active so counters survive deactivation.
type Keyword struct {
	gorm.Model
	Term       string `gorm:"uniqueIndex"`
	Affinity   string
	Priority   int
	Active     bool
	TotalFound int
	LastRunAt  sql.NullTime
}

type Keywords []Keyword

func (ks Keywords) Terms() []string {
	terms := make([]string, len(ks))
	for i, k := range ks {
		terms[i] = k.Term
	}
	return terms
}
