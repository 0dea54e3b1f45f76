package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/pkg/logger"
)

type entry struct {
	name string
	spec string
	run  func()
}

// Start registers every periodic entry and starts the cron driver.
// The midnight reset follows the scheduler timezone read at start; the
// lazy counter rollover covers a timezone changed while running.
func (l *Loop) Start(ctx context.Context) error {
	cl := logger.NewCronLogger(l.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	tz := "UTC"
	if cfg, err := l.deps.Store.GetGlobalConfig(ctx); err == nil {
		tz, _ = slots.SanitizeZone(cfg.SchedulerTimezone)
	}

	entries := []entry{
		{"tick", l.scheduler.TickCron, func() { l.Tick(ctx, time.Now()) }},
		{"cleanup", l.scheduler.CleanupCron, func() { l.CleanupPass(ctx) }},
		{"publish", l.scheduler.PublishCron, func() { l.PublishPass(ctx) }},
		{"midnight reset", fmt.Sprintf("CRON_TZ=%s 0 0 * * *", tz), func() {
			if err := l.ResetDaily(ctx, time.Now()); err != nil {
				l.log.Error().Err(err).Msg("Daily reset failed")
			}
		}},
	}
	if l.deps.Ingester != nil && l.scheduler.IngestCron != "" {
		entries = append(entries, entry{"ingest", l.scheduler.IngestCron, func() {
			if _, err := l.deps.Ingester.Run(ctx); err != nil {
				l.log.Error().Err(err).Msg("Scheduled ingest failed")
			}
		}})
	}
	if l.deps.Retrier != nil && l.retry.Enabled() && l.scheduler.RetryCron != "" {
		entries = append(entries, entry{"retry", l.scheduler.RetryCron, func() {
			if _, err := l.deps.Retrier.RetryFailed(ctx, l.retry); err != nil {
				l.log.Error().Err(err).Msg("Scheduled retry failed")
			}
		}})
	}

	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		if _, err := c.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", e.name, err)
		}
		l.log.Info().Str("cron", e.spec).Msgf("%s job scheduled", e.name)
	}

	l.cron = c
	c.Start()
	l.log.Info().Str("timezone", tz).Msg("Trigger loop started")
	return nil
}

// Stop stops the cron driver and waits for running jobs up to timeout
func (l *Loop) Stop(timeout time.Duration) {
	if l.cron == nil {
		return
	}
	done := l.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		l.log.Warn().Msg("Timed out waiting for running jobs")
	}
}

// Entries returns the number of registered cron entries
func (l *Loop) Entries() int {
	if l.cron == nil {
		return 0
	}
	return len(l.cron.Entries())
}
