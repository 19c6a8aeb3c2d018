// Package scheduler runs the periodic distribution jobs: redistributing
// unassigned leads and resetting the per-member rate counters.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"leadflow/internal/config"
	"leadflow/internal/distribution"
	"leadflow/internal/logger"
	"leadflow/pkg/metrics"
)

const (
	JobRedistribute = "redistribute"
	JobResetHourly  = "reset_hourly_counters"
	JobResetDaily   = "reset_daily_counters"
)

type Redistributor interface {
	RedistributeUnassigned(ctx context.Context, workspaceID string, limit int) (*distribution.BatchResult, error)
}

type CounterResetter interface {
	ResetHourlyCounters(ctx context.Context) (int64, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cfg           config.SchedulerConfig
	redistributor Redistributor
	counters      CounterResetter
	cron          *cron.Cron
	logger        logger.Logger
}

// New registers the configured jobs. Counter resets are only scheduled when
// cfg.ResetCounters is set and a CounterResetter is supplied.
func New(cfg config.SchedulerConfig, redistributor Redistributor, counters CounterResetter, log logger.Logger) (*Scheduler, error) {
	if redistributor == nil {
		return nil, fmt.Errorf("scheduler requires a redistributor")
	}

	s := &Scheduler{
		cfg:           cfg,
		redistributor: redistributor,
		counters:      counters,
		logger:        log,
	}

	cl := cronLogger{log: log}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	return s, nil
}

// Start schedules the jobs and blocks until ctx is cancelled. Running jobs are
// allowed to finish before it returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Infow("Scheduler started",
		"entries", len(s.cron.Entries()),
		"workspaces", s.cfg.Workspaces,
	)

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Infow("Scheduler stopped")
	return nil
}

func (s *Scheduler) register(ctx context.Context) error {
	if len(s.cfg.Workspaces) > 0 {
		if _, err := s.cron.AddFunc(s.cfg.RedistributeCron, func() { s.RunRedistribution(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", JobRedistribute, err)
		}
	} else {
		s.logger.Warnw("No workspaces configured, redistribution job disabled")
	}

	if !s.cfg.ResetCounters || s.counters == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.ResetHourlyCron, func() { s.ResetHourly(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", JobResetHourly, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ResetDailyCron, func() { s.ResetDaily(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", JobResetDaily, err)
	}
	return nil
}

// RunRedistribution redistributes every configured workspace in turn. A
// failing workspace does not stop the others.
func (s *Scheduler) RunRedistribution(ctx context.Context) {
	ctx = distribution.WithTrigger(ctx, distribution.TriggerScheduler)
	status := "success"

	for _, ws := range s.cfg.Workspaces {
		if ctx.Err() != nil {
			status = "cancelled"
			break
		}

		result, err := s.redistributor.RedistributeUnassigned(ctx, ws, 0)
		if err != nil {
			status = "error"
			s.logger.ErrorwCtx(ctx, "Scheduled redistribution failed",
				"workspace_id", ws,
				"error", err,
			)
			continue
		}
		s.logger.InfowCtx(ctx, "Scheduled redistribution finished",
			"workspace_id", ws,
			"attempted", result.Attempted,
			"distributed", result.Distributed,
			"failures", len(result.Failures),
		)
	}

	metrics.IncSchedulerJob(JobRedistribute, status)
}

func (s *Scheduler) ResetHourly(ctx context.Context) {
	s.reset(ctx, JobResetHourly, s.counters.ResetHourlyCounters)
}

func (s *Scheduler) ResetDaily(ctx context.Context) {
	s.reset(ctx, JobResetDaily, s.counters.ResetDailyCounters)
}

func (s *Scheduler) reset(ctx context.Context, job string, fn func(context.Context) (int64, error)) {
	n, err := fn(ctx)
	if err != nil {
		metrics.IncSchedulerJob(job, "error")
		s.logger.ErrorwCtx(ctx, "Counter reset failed", "job", job, "error", err)
		return
	}
	metrics.IncSchedulerJob(job, "success")
	s.logger.InfowCtx(ctx, "Counters reset", "job", job, "members", n)
}

// cronLogger routes cron's internal logging through the service logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
