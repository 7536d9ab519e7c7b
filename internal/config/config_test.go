package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagent/internal/calerr"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
store:
  kind: ICS
  ics_path: /tmp/cal.ics
schedule:
  min_gap_minutes: 10
busy_feeds:
  - name: team
    url: https://example.com/team.ics
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, StoreICS, cfg.Store.Kind)
	assert.Equal(t, "/tmp/cal.ics", cfg.Store.ICSPath)
	assert.Equal(t, 10, cfg.Schedule.MinGapMinutes)
	assert.Equal(t, 60, cfg.Schedule.DefaultDurationMinutes)
	assert.Equal(t, 100, cfg.Search.MaxResults)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(10<<20), cfg.FeedMaxBytes)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL())
	require.Len(t, cfg.BusyFeeds, 1)
	assert.Equal(t, "team", cfg.BusyFeeds[0].Name)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown store", func(c *Config) { c.Store.Kind = "caldav" }, "store.kind"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"feed without url", func(c *Config) { c.BusyFeeds = []FeedConfig{{Name: "x"}} }, "busy_feeds"},
		{"half basic auth", func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "u"} }, "basic_auth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, calerr.ErrConfiguration)
			var ve *calerr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CALAGENT_LISTEN", ":9090")
	t.Setenv("CALENDAR_TIMEZONE", "Asia/Seoul")
	t.Setenv("CALAGENT_STORE_KIND", "memory")
	t.Setenv("CALAGENT_MIN_GAP_MINUTES", "15")
	t.Setenv("MAX_EVENTS_RETURNED", "20")
	t.Setenv("CALAGENT_BASIC_AUTH_USERNAME", "admin")
	t.Setenv("CALAGENT_BASIC_AUTH_PASSWORD", "secret")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.Equal(t, 15, cfg.Schedule.MinGapMinutes)
	assert.Equal(t, 20, cfg.Schedule.MaxEventsReturned)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.Equal(t, 60, cfg.Schedule.DefaultDurationMinutes)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CALAGENT_ICS_PATH=/srv/cal.ics\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CALAGENT_ICS_PATH") })

	require.NoError(t, LoadDotEnv(envFile))
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "/srv/cal.ics", cfg.Store.ICSPath)
}
