package app

import (
	"database/sql"
	"time"

	"github.com/adscout/adscout/lib/models"
)

type KeywordView struct {
	ID         uint    `json:"id"`
	Term       string  `json:"term"`
	Affinity   string  `json:"affinity"`
	Priority   int     `json:"priority"`
	Active     bool    `json:"active"`
	TotalFound int     `json:"total_found"`
	LastRunAt  *string `json:"last_run_at"`
	CreatedAt  string  `json:"created_at"`
}

func (view KeywordView) From(entity models.Keyword) KeywordView {
	return KeywordView{
		ID:         entity.ID,
		Term:       entity.Term,
		Affinity:   entity.Affinity,
		Priority:   entity.Priority,
		Active:     entity.Active,
		TotalFound: entity.TotalFound,
		LastRunAt:  isoformat(entity.LastRunAt),
		CreatedAt:  entity.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type ListingView struct {
	ID          uint    `json:"id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Price       string  `json:"price"`
	Location    string  `json:"location"`
	Source      string  `json:"source"`
	Keyword     string  `json:"keyword"`
	CollectedAt string  `json:"collected_at"`
	LastSeenAt  *string `json:"last_seen_at"`
	Notified    bool    `json:"notified"`
}

func (view ListingView) From(entity models.Listing) ListingView {
	return ListingView{
		ID:          entity.ID,
		URL:         entity.URL,
		Title:       entity.Title,
		Price:       entity.Price,
		Location:    entity.Location,
		Source:      entity.Source,
		Keyword:     entity.Keyword,
		CollectedAt: entity.CollectedAt.UTC().Format(time.RFC3339),
		LastSeenAt:  isoformat(entity.LastSeenAt),
		Notified:    entity.Notified,
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[U Fromable[T, U], T any](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		s := t.Time.UTC().Format(time.RFC3339)
		return &s
	}
	return nil
}
