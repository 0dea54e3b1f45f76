// Package scheduler drives the pipeline from a once-a-minute tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shorts-relay/internal/agent/cleanup"
	"github.com/shorts-relay/internal/agent/ingest"
	"github.com/shorts-relay/internal/agent/publisher"
	"github.com/shorts-relay/internal/agent/uploader"
	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/pkg/logger"
)

// Store is the storage the loop reads schedules from
type Store interface {
	GetGlobalConfig(ctx context.Context) (*models.GlobalConfig, error)
	ListMappings(ctx context.Context, activeOnly bool) ([]*models.Mapping, error)
	ResetDailyUploads(ctx context.Context, date string) error
}

// Processor runs one pipeline pass
type Processor interface {
	ProcessNext(ctx context.Context, mappingID *uint) uploader.Outcome
}

// Publisher runs a delayed publish pass
type Publisher interface {
	PublishDue(ctx context.Context, limit int) (*publisher.PublishResult, error)
}

// Cleaner runs a retention pass
type Cleaner interface {
	Run(ctx context.Context, olderThan time.Duration, limit int) (*cleanup.Result, error)
}

// Ingester refreshes source listings
type Ingester interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Retrier re-queues failed items
type Retrier interface {
	RetryFailed(ctx context.Context, policy uploader.RetryPolicy) (int, error)
}

// Deps are the components the loop dispatches to. Ingester and Retrier are optional.
type Deps struct {
	Store     Store
	Keys      slots.KeyStore
	Processor Processor
	Publisher Publisher
	Cleaner   Cleaner
	Ingester  Ingester
	Retrier   Retrier
}

// Job is one slot firing to dispatch
type Job struct {
	MappingID *uint
	Label     string
	Key       string
}

// TickResult summarizes one tick
type TickResult struct {
	Skipped  bool
	Jobs     []Job
	Outcomes []uploader.Outcome
}

// Loop is the periodic trigger driver
type Loop struct {
	deps      Deps
	scheduler config.SchedulerConfig
	cleanup   config.CleanupConfig
	pipeline  config.PipelineConfig
	retry     uploader.RetryPolicy
	cron      *cron.Cron
	log       *logger.Logger

	publishMu sync.Mutex
	cleanupMu sync.Mutex
}

// New creates a trigger loop
func New(deps Deps, cfg *config.Config, log *logger.Logger) *Loop {
	return &Loop{
		deps:      deps,
		scheduler: cfg.Scheduler,
		cleanup:   cfg.Cleanup,
		pipeline:  cfg.Pipeline,
		retry:     uploader.PolicyFromConfig(cfg.Retry),
		log:       log.WithComponent("scheduler"),
	}
}

// Tick runs one scheduling step at the given instant. It never panics; failures
// are logged and counted so the next tick runs normally.
func (l *Loop) Tick(ctx context.Context, now time.Time) (res TickResult) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Tick panicked")
			metrics.TicksTotal.WithLabelValues("panic").Inc()
		}
	}()

	cfg, err := l.deps.Store.GetGlobalConfig(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to load global config")
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return res
	}
	if !cfg.AutomationEnabled {
		metrics.TicksTotal.WithLabelValues("disabled").Inc()
		res.Skipped = true
		return res
	}

	res.Jobs, err = l.CollectJobs(ctx, cfg, now)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to collect jobs")
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return res
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	if len(res.Jobs) == 0 {
		return res
	}

	// Sequential dispatch keeps the run lock and quota checks meaningful
	for _, job := range res.Jobs {
		scope := "global"
		if job.MappingID != nil {
			scope = "mapping"
		}
		metrics.JobsDispatched.WithLabelValues(scope).Inc()

		out := l.deps.Processor.ProcessNext(ctx, job.MappingID)
		res.Outcomes = append(res.Outcomes, out)
		l.log.Info().
			Str("slot", job.Label).
			Str("scope", scope).
			Str("reason", string(out.Reason)).
			Str("message", out.Message).
			Msg("Slot job finished")
	}

	l.PublishPass(ctx)
	l.CleanupPass(ctx)
	return res
}

// CollectJobs returns the slot firings due at now. Global default slots are only
// considered when no mapping slot matched this minute.
func (l *Loop) CollectJobs(ctx context.Context, cfg *models.GlobalConfig, now time.Time) ([]Job, error) {
	tz, err := slots.SanitizeZone(cfg.SchedulerTimezone)
	if err != nil {
		l.log.Warn().Err(err).Str("timezone", cfg.SchedulerTimezone).Msg("Invalid scheduler timezone, using UTC")
	}
	local, err := slots.ResolveTimeInZone(now, tz)
	if err != nil {
		return nil, err
	}

	mappings, err := l.deps.Store.ListMappings(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	var jobs []Job
	matched := false
	for _, m := range mappings {
		effective := slots.EffectiveSlots(m.SlotTimes, cfg.DefaultSlotTimes)
		for _, s := range slots.MatchSlots(local.Clock, effective) {
			matched = true
			key := slots.BuildTriggerKey(tz, local.Date, slots.MappingScope(m.ID), s.Label)
			if !l.shouldFire(ctx, key, now) {
				continue
			}
			id := m.ID
			jobs = append(jobs, Job{MappingID: &id, Label: s.Label, Key: key})
		}
	}

	if matched {
		return jobs, nil
	}

	for _, s := range slots.MatchSlots(local.Clock, slots.EffectiveSlots(nil, cfg.DefaultSlotTimes)) {
		key := slots.BuildTriggerKey(tz, local.Date, slots.ScopeGlobal, s.Label)
		if !l.shouldFire(ctx, key, now) {
			continue
		}
		jobs = append(jobs, Job{Label: s.Label, Key: key})
	}
	return jobs, nil
}

func (l *Loop) shouldFire(ctx context.Context, key string, now time.Time) bool {
	fire, err := slots.ShouldFire(ctx, l.deps.Keys, key, now)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Trigger key store unavailable, firing anyway")
		metrics.RecordError("trigger_key")
	}
	return fire
}

// PublishPass runs one delayed publish pass unless one is already running
func (l *Loop) PublishPass(ctx context.Context) {
	if !l.publishMu.TryLock() {
		return
	}
	defer l.publishMu.Unlock()

	if _, err := l.deps.Publisher.PublishDue(ctx, l.pipeline.PublishBatch); err != nil {
		l.log.Error().Err(err).Msg("Publish pass failed")
		metrics.RecordError("publish_pass")
	}
}

// CleanupPass runs one retention pass unless one is already running
func (l *Loop) CleanupPass(ctx context.Context) {
	if !l.cleanupMu.TryLock() {
		return
	}
	defer l.cleanupMu.Unlock()

	retention := time.Duration(l.cleanup.RetentionHours) * time.Hour
	if _, err := l.deps.Cleaner.Run(ctx, retention, l.cleanup.Batch); err != nil {
		l.log.Error().Err(err).Msg("Cleanup pass failed")
		metrics.RecordError("cleanup_pass")
	}
}

// ResetDaily zeroes the global upload counter for the local date of now
func (l *Loop) ResetDaily(ctx context.Context, now time.Time) error {
	cfg, err := l.deps.Store.GetGlobalConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load global config: %w", err)
	}
	tz, _ := slots.SanitizeZone(cfg.SchedulerTimezone)
	local, err := slots.ResolveTimeInZone(now, tz)
	if err != nil {
		return err
	}
	if err := l.deps.Store.ResetDailyUploads(ctx, local.Date); err != nil {
		return fmt.Errorf("failed to reset daily uploads: %w", err)
	}
	l.log.Info().Str("date", local.Date).Str("timezone", tz).Msg("Daily upload counter reset")
	return nil
}
