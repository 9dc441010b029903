package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
)

const (
	maxIdle = time.Minute
	minIdle = time.Second
)

// Job is one unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

func (sc *schedule) dueAt() time.Time {
	if sc.lastRun.IsZero() {
		return time.Time{}
	}
	return sc.lastRun.Add(sc.every)
}

type SchedulerConfig struct {
	Logger  *logger.Logger
	Lock    Lock
	Metrics *metrics.JobMetrics
	// MaxIdle caps how long the loop sleeps between passes.
	MaxIdle time.Duration
	Clock   func() time.Time
}

// Scheduler runs each job on its own cadence. Every pass is made under
// the distributed lock so only one cron-worker replica does the work.
type Scheduler struct {
	logg      *logger.Logger
	lock      Lock
	metrics   *metrics.JobMetrics
	maxIdle   time.Duration
	clock     func() time.Time
	schedules []*schedule
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	switch {
	case cfg.Logger == nil:
		return nil, errors.New("scheduler: logger required")
	case cfg.Lock == nil:
		return nil, errors.New("scheduler: lock required")
	}
	s := &Scheduler{logg: cfg.Logger, lock: cfg.Lock, metrics: cfg.Metrics, maxIdle: cfg.MaxIdle, clock: cfg.Clock}
	if s.maxIdle <= 0 {
		s.maxIdle = maxIdle
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// Every schedules job at most once per interval. A non-positive interval
// falls back to MaxIdle.
func (s *Scheduler) Every(interval time.Duration, job Job) {
	if job == nil {
		return
	}
	if interval <= 0 {
		interval = s.maxIdle
	}
	s.schedules = append(s.schedules, &schedule{job: job, every: interval})
}

// Jobs lists the scheduled jobs in registration order.
func (s *Scheduler) Jobs() []Job {
	out := make([]Job, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.job)
	}
	return out
}

// Run makes passes until ctx is done, sleeping until the next job is due.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.pass(ctx); err != nil {
			s.logg.Error(ctx, "cron pass failed", err)
		}
		timer.Reset(s.idle(s.clock()))
	}
}

func (s *Scheduler) idle(now time.Time) time.Duration {
	wait := s.maxIdle
	for _, sc := range s.schedules {
		if until := sc.dueAt().Sub(now); until < wait {
			wait = until
		}
	}
	return max(wait, minIdle)
}

func (s *Scheduler) due(now time.Time) []*schedule {
	var out []*schedule
	for _, sc := range s.schedules {
		if !now.Before(sc.dueAt()) {
			out = append(out, sc)
		}
	}
	return out
}

// pass runs every due job while holding the lock. Failures are collected
// so one broken job does not starve the rest; losing the lock stops the
// pass immediately.
func (s *Scheduler) pass(ctx context.Context) (errs error) {
	due := s.due(s.clock())
	if len(due) == 0 {
		return nil
	}

	held, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("acquire cron lock: %w", err)
	case !held:
		// the holder is running these; wait a full interval before competing again
		now := s.clock()
		for _, sc := range due {
			sc.lastRun = now
		}
		s.logg.Debug(ctx, "cron lock held elsewhere")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lock release failed")
		}
	}()

	for i, sc := range due {
		if i > 0 {
			if err := s.lock.Extend(ctx); err != nil {
				return multierr.Append(errs, fmt.Errorf("extend cron lock before %s: %w", sc.job.Name(), err))
			}
		}
		sc.lastRun = s.clock()
		errs = multierr.Append(errs, s.execute(ctx, sc.job))
	}
	return errs
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	started := s.clock()
	err := job.Run(ctx)
	finished := s.clock()
	s.metrics.ObserveRun(job.Name(), finished.Sub(started), err, finished)

	ctx = s.logg.WithField(ctx, "duration_ms", finished.Sub(started).Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Info(ctx, "cron job finished")
	return nil
}
