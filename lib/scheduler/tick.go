package scheduler

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/adscout/adscout/lib/models"
)

// tick runs the job executor across every eligible keyword for one source,
// sequentially, in registry order. If the previous tick for this source is
// still running the new one is skipped: two concurrent ticks would contend on
// the same keyword set and run-record writer.
func (s *Scheduler) tick(ctx context.Context, source string) {
	mu := s.ticks[source]
	if !mu.TryLock() {
		s.log.Sugar().Warnf("Previous %s tick still running, skipping", source)
		return
	}
	defer mu.Unlock()

	log := s.log.Sugar().With("source", source)
	started := time.Now().UTC()

	kws, err := s.registry.EligibleFor(ctx, source)
	if err != nil {
		log.Errorf("Failed to load keywords: %v", err)
		s.finishTick(source, true)
		return
	}
	if len(kws) == 0 {
		log.Warnf("No active keywords for %s", source)
		return
	}

	log.Infof("Tick started: %d keyword(s)", len(kws))

	var found, created int
	errored := false
	for _, kw := range kws {
		// One keyword's failure never aborts the rest of the batch.
		out := s.runner.Execute(ctx, kw.Term, source)
		found += out.Found
		created += out.New
		if out.Status != models.RunSuccess {
			errored = true
		}
	}

	s.finishTick(source, errored)

	evt := TickEvent{
		Source:   source,
		Keywords: len(kws),
		Found:    found,
		New:      created,
		Errored:  errored,
		Duration: time.Since(started),
	}
	select {
	case s.events <- evt:
	default:
		log.Warn("Tick event dropped, no consumer keeping up")
	}

	log.Infow("Tick finished",
		"keywords", evt.Keywords, "found", evt.Found, "new", evt.New,
		"errored", evt.Errored, "elapsed_msecs", evt.Duration.Milliseconds(),
	)
}

// finishTick updates the aggregate run statistics. The error counter is
// bumped once per tick that contained any failure, not once per failing
// keyword, so operators see "ticks with problems".
func (s *Scheduler) finishTick(source string, errored bool) {
	cfg, err := s.loadConfig(context.Background())
	if err != nil {
		s.log.Sugar().Errorf("Failed to load scheduler config after %s tick: %v", source, err)
		return
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"last_run":   now,
		"next_run":   now.Add(time.Duration(cfg.IntervalMinutes) * time.Minute),
		"total_runs": gorm.Expr("total_runs + 1"),
	}
	if errored {
		updates["total_errors"] = gorm.Expr("total_errors + 1")
	}

	err = s.db.Model(&models.SchedulerConfig{ID: 1}).Updates(updates).Error
	if err != nil {
		s.log.Sugar().Errorf("Failed to update scheduler stats: %v", err)
	}
}
