package keywords

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/models"
)

var (
	ErrAtCapacity      = errors.New("active keyword limit reached")
	ErrAlreadyActive   = errors.New("keyword already active")
	ErrNotFound        = errors.New("keyword not found")
	ErrEmptyTerm       = errors.New("keyword term is empty")
	ErrInvalidAffinity = errors.New("affinity must be olx, facebook or both")
)

// Registry owns the keyword rows: which terms are searched, against which
// sources, and in what order. At most `limit` keywords may be active at once.
type Registry struct {
	log   *zap.Logger
	db    *gorm.DB
	limit int
}

func NewRegistry(log *zap.Logger, cfg *config.Config, db *gorm.DB) *Registry {
	return &Registry{log: log, db: db, limit: cfg.MaxKeywords}
}

// Normalize folds a term to its canonical form used for uniqueness checks.
func Normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Register activates a search term. A matching inactive row is reactivated
// (counters preserved) instead of inserted. The capacity ceiling counts only
// active keywords and applies to reactivation too; a rejected call leaves no
// side effects.
func (r *Registry) Register(ctx context.Context, term, affinity string, priority int) error {
	term = Normalize(term)
	if term == "" {
		return ErrEmptyTerm
	}

	affinity = strings.ToLower(strings.TrimSpace(affinity))
	if !models.ValidAffinity(affinity) {
		return ErrInvalidAffinity
	}

	if priority < 1 || priority > 3 {
		r.log.Sugar().Warnf("Invalid priority %d for %q, using 1", priority, term)
		priority = 1
	}

	var existing models.Keyword
	err := r.db.WithContext(ctx).Where("term = ?", term).First(&existing).Error
	switch {
	case err == nil:
		if existing.Active {
			return ErrAlreadyActive
		}
		if err := r.checkCapacity(ctx); err != nil {
			return err
		}
		tx := r.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"active":   true,
			"affinity": affinity,
			"priority": priority,
		})
		if tx.Error != nil {
			return tx.Error
		}
		r.log.Sugar().Infof("Keyword %q reactivated (affinity: %s, priority: %d)", term, affinity, priority)
		return nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.checkCapacity(ctx); err != nil {
			return err
		}
		kw := models.Keyword{Term: term, Affinity: affinity, Priority: priority, Active: true}
		if err := r.db.WithContext(ctx).Create(&kw).Error; err != nil {
			return err
		}
		r.log.Sugar().Infof("Keyword %q registered (affinity: %s, priority: %d)", term, affinity, priority)
		return nil

	default:
		return err
	}
}

func (r *Registry) checkCapacity(ctx context.Context) error {
	var active int64
	tx := r.db.WithContext(ctx).Model(&models.Keyword{}).Where("active = ?", true).Count(&active)
	if tx.Error != nil {
		return tx.Error
	}
	if active >= int64(r.limit) {
		return ErrAtCapacity
	}
	return nil
}

// Deactivate soft-deletes a keyword; counters are retained for reactivation.
func (r *Registry) Deactivate(ctx context.Context, term string) error {
	tx := r.db.WithContext(ctx).
		Model(&models.Keyword{}).
		Where("term = ? AND active = ?", Normalize(term), true).
		Update("active", false)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	r.log.Sugar().Infof("Keyword %q deactivated", Normalize(term))
	return nil
}

// List returns keywords ordered by priority descending, then creation order.
// An empty affinity means no affinity filter.
func (r *Registry) List(ctx context.Context, affinity string, activeOnly bool) (models.Keywords, error) {
	q := r.db.WithContext(ctx).Order("priority desc, created_at asc")
	if affinity != "" {
		q = q.Where("affinity = ?", strings.ToLower(affinity))
	}
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var kws models.Keywords
	if err := q.Find(&kws).Error; err != nil {
		return nil, err
	}
	return kws, nil
}

// EligibleFor returns the active keywords a tick for one source should run,
// in run order. A keyword is eligible when its affinity names the source or
// is the wildcard.
func (r *Registry) EligibleFor(ctx context.Context, source string) (models.Keywords, error) {
	var kws models.Keywords
	tx := r.db.WithContext(ctx).
		Where("active = ? AND (affinity = ? OR affinity = ?)", true, source, models.AffinityBoth).
		Order("priority desc, created_at asc").
		Find(&kws)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return kws, nil
}

// RecordOutcome bumps a keyword's counters after a run. A missing term is
// logged but never fails the caller: by the time this runs, the listings are
// already persisted.
func (r *Registry) RecordOutcome(ctx context.Context, term string, newlyFound int) {
	tx := r.db.WithContext(ctx).
		Model(&models.Keyword{}).
		Where("term = ?", Normalize(term)).
		Updates(map[string]any{
			"total_found": gorm.Expr("total_found + ?", newlyFound),
			"last_run_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		r.log.Sugar().Errorf("Failed to record outcome for %q: %v", term, tx.Error)
		return
	}
	if tx.RowsAffected == 0 {
		r.log.Sugar().Warnf("Keyword %q not found while recording outcome", term)
	}
}

type CapacityStatus struct {
	Active    int `json:"active"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

// Capacity reports the active-keyword headroom; used to pre-flight Register.
func (r *Registry) Capacity(ctx context.Context) (CapacityStatus, error) {
	var active int64
	tx := r.db.WithContext(ctx).Model(&models.Keyword{}).Where("active = ?", true).Count(&active)
	if tx.Error != nil {
		return CapacityStatus{}, tx.Error
	}

	available := r.limit - int(active)
	if available < 0 {
		available = 0
	}
	return CapacityStatus{Active: int(active), Limit: r.limit, Available: available}, nil
}
