package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorts-relay/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "* * * * *", cfg.Scheduler.TickCron)
	assert.Equal(t, "*/30 * * * *", cfg.Scheduler.CleanupCron)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.MaxDuration)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.PublishBackoff)
	assert.Equal(t, 20, cfg.Pipeline.ClaimWindow)
	assert.Equal(t, 200, cfg.Pipeline.GlobalWindow)
	assert.Equal(t, 200, cfg.Cleanup.Batch)
	assert.Equal(t, []string{"09:00", "18:00"}, cfg.Defaults.SlotTimes)
	assert.Zero(t, cfg.Retry.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
defaults:
  timezone: Asia/Kolkata
  slot_times: ["07:00", "19:30"]
  visibility: unlisted
  unlisted_publish_delay_hours: 2
scheduler:
  lock_lease: 10m
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	seed := cfg.GlobalSeed()
	assert.Equal(t, "Asia/Kolkata", seed.SchedulerTimezone)
	assert.Equal(t, models.StringSlice{"07:00", "19:30"}, seed.DefaultSlotTimes)
	assert.Equal(t, models.VisibilityUnlisted, seed.DefaultVisibility)
	assert.Equal(t, 2, seed.UnlistedPublishDelayHours)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.LockLease)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RELAY_DATABASE_DSN", "/tmp/override.db")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.DSN)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, "{}\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Defaults.Timezone = "Moon/Base" }},
		{"bad slot", func(c *Config) { c.Defaults.SlotTimes = []string{"25:00"} }},
		{"bad visibility", func(c *Config) { c.Defaults.Visibility = "secret" }},
		{"zero claim window", func(c *Config) { c.Pipeline.ClaimWindow = 0 }},
		{"zero cleanup batch", func(c *Config) { c.Cleanup.Batch = 0 }},
		{"negative retries", func(c *Config) { c.Retry.MaxAttempts = -1 }},
		{"zero lease", func(c *Config) { c.Scheduler.LockLease = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateUploads(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateUploads())
	cfg.Google.ClientID = "id"
	cfg.Google.ClientSecret = "secret"
	assert.NoError(t, cfg.ValidateUploads())
}
