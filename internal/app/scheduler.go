/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Schedules are cron expressions; an empty one disables the job.
type Schedules struct {
	Reconcile    string
	PriceRefresh string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the number of
// jobs scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	register := func(name, spec string, job func()) {
		if strings.TrimSpace(spec) == "" {
			s.logger.Info("job disabled", "job", name)
			return
		}
		if _, err := s.cron.AddFunc(spec, job); err != nil {
			s.logger.Error("failed to schedule job", "job", name, "schedule", spec, "error", err)
			return
		}
		s.logger.Info("scheduled job", "job", name, "schedule", spec)
		scheduled++
	}

	register("campaign_reconciliation", s.schedules.Reconcile, s.jobs.ReconcileCampaignAggregates)
	register("price_refresh", s.schedules.PriceRefresh, s.jobs.RefreshPrices)

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
