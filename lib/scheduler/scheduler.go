package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/keywords"
	"github.com/adscout/adscout/lib/models"
	"github.com/adscout/adscout/lib/runner"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler is already running")
	ErrAlreadyStopped  = errors.New("scheduler is already stopped")
	ErrInvalidInterval = errors.New("interval must be 10, 30 or 60 minutes")
	ErrUnknownSource   = errors.New("unknown source")
)

// ValidIntervals is the fixed set of accepted schedule intervals, in minutes.
var ValidIntervals = []int{10, 30, 60}

// Runner abstracts the job executor so ticks can be driven in tests.
type Runner interface {
	Execute(ctx context.Context, term, source string) runner.Outcome
}

// TickEvent is published after every completed tick, scheduled or manual. The
// notification layer consumes these instead of being wired into the scheduler.
type TickEvent struct {
	Source   string
	Keywords int
	Found    int
	New      int
	Errored  bool
	Duration time.Duration
}

// Status is the operator-facing view of the scheduler singleton.
type Status struct {
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	TotalRuns       int        `json:"total_runs"`
	TotalErrors     int        `json:"total_errors"`
}

// Scheduler is a state machine over the scheduler_config row: Stopped (cron
// == nil) or Running. One recurring trigger per source; triggers for
// different sources may fire concurrently, keywords within a source run
// sequentially, and a source never overlaps itself.
type Scheduler struct {
	log      *zap.Logger
	db       *gorm.DB
	registry *keywords.Registry
	runner   Runner

	mu     sync.Mutex
	cron   *cron.Cron
	ticks  map[string]*sync.Mutex
	events chan TickEvent
}

func NewScheduler(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, db *gorm.DB, registry *keywords.Registry, run Runner) *Scheduler {
	s := newScheduler(log, db, registry, run)
	s.initConfig(cfg.IntervalMinutes)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			st, err := s.GetStatus(ctx)
			if err != nil {
				return err
			}
			if st.Enabled {
				log.Sugar().Info("Scheduler was enabled before shutdown, resuming")
				return s.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.mu.Lock()
			done, err := s.stopLocked()
			s.mu.Unlock()
			if err != nil && !errors.Is(err, ErrAlreadyStopped) {
				return err
			}
			// An in-flight tick is allowed to run to completion; wait for it
			// so shutdown is quiescent before the process exits.
			s.awaitIdle(ctx, done)
			return nil
		},
	})

	return s
}

func newScheduler(log *zap.Logger, db *gorm.DB, registry *keywords.Registry, run Runner) *Scheduler {
	ticks := make(map[string]*sync.Mutex, len(models.Sources))
	for _, source := range models.Sources {
		ticks[source] = &sync.Mutex{}
	}
	return &Scheduler{
		log:      log,
		db:       db,
		registry: registry,
		runner:   run,
		ticks:    ticks,
		events:   make(chan TickEvent, 16),
	}
}

// Events is the post-tick event stream. Events are dropped, with a warning,
// if no consumer keeps up; the scheduler never blocks on its listeners. The
// channel is never closed: an in-flight tick may outlive Stop and still
// publish, so consumers exit via their own cancellation instead.
func (s *Scheduler) Events() <-chan TickEvent {
	return s.events
}

// awaitIdle blocks until in-flight ticks have drained: cron-fired ones via
// the context cron.Stop hands back, manual runs via the per-source tick
// locks. The tick lock is held across the event send, so once every lock has
// been cycled nothing is still publishing.
func (s *Scheduler) awaitIdle(ctx context.Context, cronDone context.Context) {
	if cronDone != nil {
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
			return
		}
	}
	for _, source := range models.Sources {
		mu := s.ticks[source]
		mu.Lock()
		mu.Unlock()
	}
}

func (s *Scheduler) initConfig(defaultInterval int) {
	var count int64
	if err := s.db.Model(&models.SchedulerConfig{}).Count(&count).Error; err != nil {
		s.log.Sugar().Errorf("Failed to inspect scheduler config: %v", err)
		return
	}
	if count > 0 {
		return
	}

	row := models.SchedulerConfig{ID: 1, IntervalMinutes: defaultInterval, Enabled: false}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Sugar().Errorf("Failed to initialize scheduler config: %v", err)
		return
	}
	s.log.Sugar().Infof("Scheduler config initialized (%d min, disabled)", defaultInterval)
}

func (s *Scheduler) loadConfig(ctx context.Context) (*models.SchedulerConfig, error) {
	var row models.SchedulerConfig
	if err := s.db.WithContext(ctx).First(&row, 1).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Start registers one recurring trigger per source and transitions to
// Running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if s.cron != nil {
		return ErrAlreadyRunning
	}

	cfg, err := s.loadConfig(context.Background())
	if err != nil {
		return err
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %dm", cfg.IntervalMinutes)
	for _, source := range models.Sources {
		src := source
		if _, err := c.AddFunc(spec, func() { s.tick(context.Background(), src) }); err != nil {
			return fmt.Errorf("cron.AddFunc(%s): %w", src, err)
		}
	}

	// Persist before starting the triggers: a failed update must leave the
	// state machine Stopped so the caller can retry.
	nextRun := time.Now().UTC().Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
	err = s.db.Model(&models.SchedulerConfig{ID: 1}).Updates(map[string]any{
		"enabled":  true,
		"next_run": nextRun,
	}).Error
	if err != nil {
		return err
	}

	c.Start()
	s.cron = c

	s.log.Sugar().Infof("Scheduler started (interval: %d min, next run: %s)",
		cfg.IntervalMinutes, nextRun.Format(time.RFC3339))
	return nil
}

// Stop cancels future tick firings and transitions to Stopped. An in-flight
// tick is allowed to finish; historical counters are kept.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.stopLocked()
	return err
}

// stopLocked cancels future firings and returns the context cron uses to
// signal that its running jobs have finished.
func (s *Scheduler) stopLocked() (context.Context, error) {
	if s.cron == nil {
		return nil, ErrAlreadyStopped
	}

	done := s.cron.Stop()
	s.cron = nil

	err := s.db.Model(&models.SchedulerConfig{ID: 1}).Update("enabled", false).Error
	if err != nil {
		return done, err
	}
	s.log.Sugar().Info("Scheduler stopped")
	return done, nil
}

// SetInterval reconfigures the schedule interval. When running, the scheduler
// restarts so the next fire reflects the new interval immediately.
func (s *Scheduler) SetInterval(minutes int) error {
	valid := false
	for _, v := range ValidIntervals {
		if minutes == v {
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Model(&models.SchedulerConfig{ID: 1}).Update("interval_minutes", minutes).Error
	if err != nil {
		return err
	}
	s.log.Sugar().Infof("Interval set to %d minutes", minutes)

	if s.cron == nil {
		return nil
	}
	if _, err := s.stopLocked(); err != nil {
		return err
	}
	return s.startLocked()
}

// RunOnce fires a synchronous out-of-band tick for one source, or "all". It
// updates the same statistics as a scheduled tick, so manual and automatic
// runs are indistinguishable in history.
func (s *Scheduler) RunOnce(ctx context.Context, source string) error {
	if source == "all" {
		for _, src := range models.Sources {
			s.tick(ctx, src)
		}
		return nil
	}
	if !models.ValidSource(source) {
		return ErrUnknownSource
	}
	s.tick(ctx, source)
	return nil
}

// GetStatus reads the scheduler singleton for status reporting.
func (s *Scheduler) GetStatus(ctx context.Context) (*Status, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Enabled:         cfg.Enabled,
		IntervalMinutes: cfg.IntervalMinutes,
		TotalRuns:       cfg.TotalRuns,
		TotalErrors:     cfg.TotalErrors,
	}
	if cfg.LastRun.Valid {
		t := cfg.LastRun.Time
		st.LastRun = &t
	}
	if cfg.NextRun.Valid {
		t := cfg.NextRun.Time
		st.NextRun = &t
	}
	return st, nil
}
