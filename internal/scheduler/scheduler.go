// Package scheduler runs the periodic jobs: seeding the daily proposal and
// refreshing the data store.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"piggysaving/internal/config"
	"piggysaving/internal/core"
	"piggysaving/internal/log"
)

// Seeder creates proposals for every day that lacks one.
type Seeder interface {
	ProcessDue(ctx context.Context, today core.Date) (int, error)
}

// Refresher reloads the in-memory model.
type Refresher interface {
	Refresh(ctx context.Context, sortDescending bool) []error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron      *cron.Cron
	seeder    Seeder
	refresher Refresher
	logger    *log.Logger
	ctx       context.Context
	now       func() time.Time
}

// NewScheduler creates a new Scheduler. Either job may be nil: remote
// installs have nothing to seed.
func NewScheduler(ctx context.Context, seeder Seeder, refresher Refresher, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentScheduler)
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		seeder:    seeder,
		refresher: refresher,
		logger:    logger,
		ctx:       ctx,
		now:       time.Now,
	}
}

// RegisterAll registers the seed and refresh tasks for the jobs present.
func (s *Scheduler) RegisterAll(seedCron, refreshCron string) error {
	if s.seeder != nil {
		if _, err := s.cron.AddFunc(seedCron, s.seedTask); err != nil {
			return fmt.Errorf("register seed task: %w", err)
		}
	}
	if s.refresher != nil {
		if _, err := s.cron.AddFunc(refreshCron, s.refreshTask); err != nil {
			return fmt.Errorf("register refresh task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", log.FieldCount, len(s.cron.Entries()))
}

// Stop stops the cron scheduler and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// RunNow executes every registered job once, seed first.
func (s *Scheduler) RunNow() {
	if s.seeder != nil {
		s.seedTask()
	}
	if s.refresher != nil {
		s.refreshTask()
	}
}

func (s *Scheduler) seedTask() {
	today := core.DateOf(s.now())
	created, err := s.seeder.ProcessDue(s.ctx, today)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Seed task failed",
			log.FieldOperation, log.OpSeed,
			log.FieldDate, today.String(),
			log.FieldError, err)
		return
	}
	s.logger.DebugContext(s.ctx, "Seed task done", log.FieldCount, created)
}

// refreshTask logs every failed fetch; a partial refresh still updates
// whatever succeeded.
func (s *Scheduler) refreshTask() {
	errs := s.refresher.Refresh(s.ctx, true)
	for _, err := range errs {
		s.logger.ErrorContext(s.ctx, "Refresh failed",
			log.FieldOperation, log.OpRefresh,
			log.FieldError, err)
	}
	if len(errs) == 0 {
		s.logger.DebugContext(s.ctx, "Refresh task done")
	}
}

// cronLogger routes the cron library's own messages through our logger.
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, log.FieldError, err)...)
}
