package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"plantscan/api/internal/config"
	"plantscan/api/internal/metrics"
)

const jobTimeout = time.Minute

type SubscriptionExpirer interface {
	ExpireLapsedSubscriptions(ctx context.Context) (int64, error)
}

type ResetTokenPurger interface {
	PurgeExpiredResetTokens(ctx context.Context) (int64, error)
}

// Cleaner drops expired entries from an in-process store.
type Cleaner interface {
	Cleanup() int
}

type Scheduler struct {
	cron     *cron.Cron
	cfg      config.JobsConfig
	subs     SubscriptionExpirer
	resets   ResetTokenPurger
	cleaners []Cleaner
	log      zerolog.Logger
}

func NewScheduler(cfg config.JobsConfig, subs SubscriptionExpirer, resets ResetTokenPurger, log zerolog.Logger, cleaners ...Cleaner) *Scheduler {
	cronLog := log.With().Str("component", "cron").Logger()
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLog))),
	)
	return &Scheduler{
		cron:     c,
		cfg:      cfg,
		subs:     subs,
		resets:   resets,
		cleaners: cleaners,
		log:      log,
	}
}

// Start registers every job with a non-empty schedule and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"subscription_sweep", s.cfg.SubscriptionSweep, s.SweepSubscriptions},
		{"reset_token_purge", s.cfg.ResetPurge, s.PurgeResetTokens},
		{"limiter_cleanup", s.cfg.LimiterCleanup, s.CleanupLimiters},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling. The returned context is done once running jobs finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepSubscriptions marks lapsed subscriptions expired.
func (s *Scheduler) SweepSubscriptions() {
	s.run("subscription_sweep", s.subs.ExpireLapsedSubscriptions)
}

func (s *Scheduler) PurgeResetTokens() {
	s.run("reset_token_purge", s.resets.PurgeExpiredResetTokens)
}

func (s *Scheduler) CleanupLimiters() {
	if len(s.cleaners) == 0 {
		return
	}
	s.run("limiter_cleanup", func(context.Context) (int64, error) {
		var removed int64
		for _, c := range s.cleaners {
			removed += int64(c.Cleanup())
		}
		return removed, nil
	})
}

func (s *Scheduler) run(name string, fn func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	affected, err := fn(ctx)
	duration := time.Since(start)
	metrics.RecordJob(name, duration, err == nil)

	if err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("duration", duration).Msg("job failed")
		return
	}
	if affected > 0 {
		s.log.Info().Str("job", name).Int64("affected", affected).Dur("duration", duration).Msg("job finished")
		return
	}
	s.log.Debug().Str("job", name).Dur("duration", duration).Msg("job finished")
}
