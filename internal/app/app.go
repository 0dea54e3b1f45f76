// Package app wires configuration, storage and agents into one runnable graph.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shorts-relay/internal/agent/cleanup"
	"github.com/shorts-relay/internal/agent/ingest"
	"github.com/shorts-relay/internal/agent/publisher"
	"github.com/shorts-relay/internal/agent/uploader"
	"github.com/shorts-relay/internal/ai"
	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/media"
	"github.com/shorts-relay/internal/queue"
	"github.com/shorts-relay/internal/scheduler"
	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/internal/source"
	"github.com/shorts-relay/internal/source/feed"
	"github.com/shorts-relay/internal/storage/sqlite"
	"github.com/shorts-relay/internal/tracker"
	"github.com/shorts-relay/internal/youtube"
	"github.com/shorts-relay/pkg/logger"
	"github.com/shorts-relay/pkg/ratelimit"
)

// App holds every long-lived component
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Repo      *sqlite.Repository
	Limiter   *ratelimit.MultiLimiter
	OAuth     *youtube.OAuthManager
	YouTube   *youtube.Client
	Tracker   *tracker.SheetsTracker // nil when disabled
	Resolver  *queue.Resolver
	Uploader  *uploader.Agent
	Publisher *publisher.Agent
	Cleanup   *cleanup.Engine
	Ingest    *ingest.Agent // nil when sources are disabled
	Keys      slots.KeyStore

	redis *redis.Client
}

// New opens storage, seeds the global config and builds all agents
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if _, err := repo.EnsureGlobalConfig(ctx, cfg.GlobalSeed()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to seed global config: %w", err)
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Repo:    repo,
		Limiter: ratelimit.NewDefaultLimiter(),
	}
	applyRateLimits(a.Limiter, cfg.RateLimit)

	a.OAuth = youtube.NewOAuthManager(cfg.Google, repo, log)
	a.YouTube = youtube.NewClient(cfg.Google, a.Limiter, log)

	a.Tracker, err = tracker.NewSheetsTracker(cfg.Tracker, a.Limiter, log)
	if err != nil {
		log.Warn().Err(err).Msg("Upload tracker disabled")
		a.Tracker = nil
	}

	collab := uploader.Collaborators{
		Downloader:  media.NewDownloader(cfg.Pipeline, media.ExecRunner, log),
		Validator:   media.NewValidator(cfg.Pipeline, media.ExecRunner, log),
		Uploader:    a.YouTube,
		Credentials: a.OAuth,
	}
	if cfg.Anthropic.APIKey != "" {
		collab.Enhancer = ai.NewClient(cfg.Anthropic, a.Limiter, log)
	}
	var publishOpts []publisher.Option
	if a.Tracker != nil {
		collab.Tracker = a.Tracker
		publishOpts = append(publishOpts, publisher.WithTracker(a.Tracker))
	}

	a.Resolver = queue.NewResolver(repo, log,
		queue.WithClaimWindow(cfg.Pipeline.ClaimWindow),
		queue.WithGlobalWindow(cfg.Pipeline.GlobalWindow))
	a.Uploader = uploader.NewAgent(repo, a.Resolver, collab, cfg.Pipeline, log,
		uploader.WithLockLease(cfg.Scheduler.LockLease))
	a.Publisher = publisher.NewAgent(repo, a.YouTube, a.OAuth, cfg.Pipeline, log, publishOpts...)
	a.Cleanup = cleanup.NewEngine(repo, log)

	if cfg.Sources.Enabled {
		manager := source.NewManager(feed.New(cfg.Sources, a.Limiter, log))
		a.Ingest = ingest.NewAgent(manager, repo, cfg.Sources, log)
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Keys = slots.NewRedisKeyStore(a.redis, cfg.Redis.KeyPrefix, cfg.Scheduler.KeyTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis trigger key store")
	} else {
		a.Keys = slots.NewMemoryKeyStore(0, cfg.Scheduler.KeyTTL)
	}

	return a, nil
}

// applyRateLimits overrides the default per-service rates with configured per-minute values
func applyRateLimits(l *ratelimit.MultiLimiter, rl config.RateLimitConfig) {
	if rl.YouTubeRequestsPerMinute > 0 {
		l.SetPerMinute(ratelimit.LimiterYouTube, rl.YouTubeRequestsPerMinute, 3)
	}
	if rl.AnthropicRequestsPerMinute > 0 {
		l.SetPerMinute(ratelimit.LimiterAnthropic, rl.AnthropicRequestsPerMinute, 2)
	}
	if rl.FeedRequestsPerMinute > 0 {
		l.SetPerMinute(ratelimit.LimiterFeed, rl.FeedRequestsPerMinute, 10)
	}
}

// Loop builds the trigger loop over the app's agents
func (a *App) Loop() *scheduler.Loop {
	deps := scheduler.Deps{
		Store:     a.Repo,
		Keys:      a.Keys,
		Processor: a.Uploader,
		Publisher: a.Publisher,
		Cleaner:   a.Cleanup,
		Retrier:   a.Uploader,
	}
	if a.Ingest != nil {
		deps.Ingester = a.Ingest
	}
	return scheduler.New(deps, a.Config, a.Log)
}

// Close releases storage and the Redis client
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	return a.Repo.Close()
}
