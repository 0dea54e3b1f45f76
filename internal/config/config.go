package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/slots"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Google    GoogleConfig    `mapstructure:"google"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Sources   SourcesConfig   `mapstructure:"sources"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// RedisConfig holds the optional shared trigger key store.
// An empty address keeps trigger keys in process memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// GoogleConfig holds YouTube Data API OAuth settings
type GoogleConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
	CategoryID   string   `mapstructure:"category_id"`
}

// AnthropicConfig holds Claude API settings
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// SchedulerConfig holds trigger loop settings
type SchedulerConfig struct {
	TickCron    string        `mapstructure:"tick_cron"`
	CleanupCron string        `mapstructure:"cleanup_cron"`
	PublishCron string        `mapstructure:"publish_cron"`
	IngestCron  string        `mapstructure:"ingest_cron"`
	RetryCron   string        `mapstructure:"retry_cron"`
	LockLease   time.Duration `mapstructure:"lock_lease"`
	KeyTTL      time.Duration `mapstructure:"key_ttl"`
}

// DefaultsConfig seeds the persisted global config on first start
type DefaultsConfig struct {
	AutomationEnabled         bool     `mapstructure:"automation_enabled"`
	Timezone                  string   `mapstructure:"timezone"`
	SlotTimes                 []string `mapstructure:"slot_times"`
	Visibility                string   `mapstructure:"visibility"`
	UploadsPerDay             int      `mapstructure:"uploads_per_day"`
	UnlistedPublishDelayHours int      `mapstructure:"unlisted_publish_delay_hours"`
	AIEnhancementEnabled      bool     `mapstructure:"ai_enhancement_enabled"`
}

// PipelineConfig holds upload pipeline settings
type PipelineConfig struct {
	WorkDir              string        `mapstructure:"work_dir"`
	MaxDuration          time.Duration `mapstructure:"max_duration"`
	DownloadTimeout      time.Duration `mapstructure:"download_timeout"`
	YtDlpPath            string        `mapstructure:"ytdlp_path"`
	FfprobePath          string        `mapstructure:"ffprobe_path"`
	DefaultTargetChannel string        `mapstructure:"default_target_channel"` // destination of global pool items
	ClaimWindow          int           `mapstructure:"claim_window"`
	GlobalWindow         int           `mapstructure:"global_window"`
	PublishBatch         int           `mapstructure:"publish_batch"`
	PublishBackoff       time.Duration `mapstructure:"publish_backoff"`
}

// RetryConfig holds the automatic retry policy for transient failures
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // 0 disables automatic retry
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	Batch       int           `mapstructure:"batch"`
}

// CleanupConfig holds retention settings
type CleanupConfig struct {
	RetentionHours int `mapstructure:"retention_hours"`
	Batch          int `mapstructure:"batch"`
}

// ServerConfig holds the control surface settings
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	YouTubeRequestsPerMinute   int `mapstructure:"youtube_requests_per_minute"`
	AnthropicRequestsPerMinute int `mapstructure:"anthropic_requests_per_minute"`
	FeedRequestsPerMinute      int `mapstructure:"feed_requests_per_minute"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// TrackerConfig holds Google Sheets tracker settings
type TrackerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// SourcesConfig holds ingestion settings
type SourcesConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	FeedBaseURL    string   `mapstructure:"feed_base_url"`
	GlobalChannels []string `mapstructure:"global_channels"` // sources feeding the unmapped pool
	MaxPerFetch    int      `mapstructure:"max_per_fetch"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".shorts-relay"))
		}
	}

	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("anthropic.api_key", "RELAY_ANTHROPIC_API_KEY")
	v.BindEnv("google.client_id", "RELAY_GOOGLE_CLIENT_ID")
	v.BindEnv("google.client_secret", "RELAY_GOOGLE_CLIENT_SECRET")
	v.BindEnv("database.dsn", "RELAY_DATABASE_DSN")
	v.BindEnv("redis.addr", "RELAY_REDIS_ADDR")
	v.BindEnv("redis.password", "RELAY_REDIS_PASSWORD")
	v.BindEnv("server.addr", "RELAY_SERVER_ADDR")
	v.BindEnv("pipeline.work_dir", "RELAY_PIPELINE_WORK_DIR")
	v.BindEnv("pipeline.default_target_channel", "RELAY_PIPELINE_DEFAULT_TARGET_CHANNEL")
	v.BindEnv("tracker.enabled", "RELAY_TRACKER_ENABLED")
	v.BindEnv("tracker.spreadsheet_id", "RELAY_TRACKER_SPREADSHEET_ID")
	v.BindEnv("tracker.credentials_file", "RELAY_TRACKER_CREDENTIALS_FILE")
	v.BindEnv("tracker.service_account_json", "RELAY_TRACKER_SERVICE_ACCOUNT_JSON")
	v.BindEnv("defaults.timezone", "RELAY_DEFAULTS_TIMEZONE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/relay.db")

	v.SetDefault("redis.key_prefix", "relay:")

	v.SetDefault("google.redirect_uri", "http://localhost:8080/callback")
	v.SetDefault("google.scopes", []string{
		"https://www.googleapis.com/auth/youtube.upload",
		"https://www.googleapis.com/auth/youtube",
	})
	v.SetDefault("google.category_id", "22") // People & Blogs

	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 1024)

	v.SetDefault("scheduler.tick_cron", "* * * * *")
	v.SetDefault("scheduler.cleanup_cron", "*/30 * * * *")
	v.SetDefault("scheduler.publish_cron", "*/5 * * * *")
	v.SetDefault("scheduler.ingest_cron", "0 * * * *")
	v.SetDefault("scheduler.retry_cron", "*/15 * * * *")
	v.SetDefault("scheduler.lock_lease", 30*time.Minute)
	v.SetDefault("scheduler.key_ttl", slots.DefaultKeyTTL)

	v.SetDefault("defaults.automation_enabled", true)
	v.SetDefault("defaults.timezone", "UTC")
	v.SetDefault("defaults.slot_times", []string{slots.DefaultMorning, slots.DefaultEvening})
	v.SetDefault("defaults.visibility", string(models.VisibilityPublic))
	v.SetDefault("defaults.uploads_per_day", 2)
	v.SetDefault("defaults.unlisted_publish_delay_hours", 0)
	v.SetDefault("defaults.ai_enhancement_enabled", false)

	v.SetDefault("pipeline.work_dir", "./data/work")
	v.SetDefault("pipeline.max_duration", 60*time.Second)
	v.SetDefault("pipeline.download_timeout", 10*time.Minute)
	v.SetDefault("pipeline.ytdlp_path", "yt-dlp")
	v.SetDefault("pipeline.ffprobe_path", "ffprobe")
	v.SetDefault("pipeline.claim_window", 20)
	v.SetDefault("pipeline.global_window", 200)
	v.SetDefault("pipeline.publish_batch", 20)
	v.SetDefault("pipeline.publish_backoff", 15*time.Minute)

	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("retry.base_backoff", 30*time.Minute)
	v.SetDefault("retry.batch", 20)

	v.SetDefault("cleanup.retention_hours", 72)
	v.SetDefault("cleanup.batch", 200)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8090")

	v.SetDefault("rate_limit.youtube_requests_per_minute", 60)
	v.SetDefault("rate_limit.anthropic_requests_per_minute", 10)
	v.SetDefault("rate_limit.feed_requests_per_minute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.sheet_name", "Uploads")

	v.SetDefault("sources.enabled", true)
	v.SetDefault("sources.feed_base_url", "https://www.youtube.com/feeds/videos.xml")
	v.SetDefault("sources.max_per_fetch", 15)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := slots.LoadZone(c.Defaults.Timezone); err != nil {
		return fmt.Errorf("defaults.timezone: %w", err)
	}
	for _, s := range c.Defaults.SlotTimes {
		if !slots.ValidSlot(s) {
			return fmt.Errorf("defaults.slot_times: %q is not HH:MM", s)
		}
	}
	if !models.Visibility(c.Defaults.Visibility).Valid() {
		return fmt.Errorf("defaults.visibility: unknown visibility %q", c.Defaults.Visibility)
	}
	if c.Defaults.UploadsPerDay < 0 {
		return fmt.Errorf("defaults.uploads_per_day must not be negative")
	}
	if c.Pipeline.ClaimWindow <= 0 || c.Pipeline.GlobalWindow <= 0 {
		return fmt.Errorf("pipeline claim and global windows must be positive")
	}
	if c.Pipeline.PublishBatch <= 0 || c.Cleanup.Batch <= 0 {
		return fmt.Errorf("publish and cleanup batch limits must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Scheduler.LockLease <= 0 {
		return fmt.Errorf("scheduler.lock_lease must be positive")
	}
	return nil
}

// ValidateUploads checks the settings needed to talk to YouTube
func (c *Config) ValidateUploads() error {
	if c.Google.ClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	return nil
}

// GlobalSeed converts the defaults section into the persisted global config seed
func (c *Config) GlobalSeed() *models.GlobalConfig {
	return &models.GlobalConfig{
		AutomationEnabled:         c.Defaults.AutomationEnabled,
		SchedulerTimezone:         c.Defaults.Timezone,
		DefaultSlotTimes:          models.StringSlice(c.Defaults.SlotTimes),
		DefaultVisibility:         models.Visibility(c.Defaults.Visibility),
		DefaultUploadsPerDay:      c.Defaults.UploadsPerDay,
		UnlistedPublishDelayHours: c.Defaults.UnlistedPublishDelayHours,
		AIEnhancementEnabled:      c.Defaults.AIEnhancementEnabled,
	}
}
