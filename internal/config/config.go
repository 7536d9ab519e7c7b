package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"calagent/internal/calerr"
)

// Store kinds.
const (
	StoreGoogle = "google"
	StoreICS    = "ics"
	StoreMemory = "memory"
)

// StoreConfig selects and configures the calendar the agent writes to.
type StoreConfig struct {
	// Kind is one of "google", "ics" or "memory".
	Kind string `yaml:"kind" json:"kind"`

	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string `yaml:"token_file" json:"token_file"`

	// ICSPath is the calendar file used when Kind is "ics".
	ICSPath string `yaml:"ics_path" json:"ics_path"`
}

// FeedConfig is a read-only ICS subscription counted as busy time.
type FeedConfig struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS  int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier" json:"multiplier"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// SearchConfig bounds the window the deletion search looks at.
type SearchConfig struct {
	LookbackDays  int `yaml:"lookback_days" json:"lookback_days"`
	LookaheadDays int `yaml:"lookahead_days" json:"lookahead_days"`
	MaxResults    int `yaml:"max_results" json:"max_results"`
}

type ScheduleConfig struct {
	MinGapMinutes          int `yaml:"min_gap_minutes" json:"min_gap_minutes"`
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	MaxEventsReturned      int `yaml:"max_events_returned" json:"max_events_returned"`
}

func (s ScheduleConfig) MinGap() time.Duration {
	return time.Duration(s.MinGapMinutes) * time.Minute
}

func (s ScheduleConfig) DefaultDuration() time.Duration {
	return time.Duration(s.DefaultDurationMinutes) * time.Minute
}

type CacheConfig struct {
	// Size is the number of fetch windows kept. 0 disables the cache.
	Size       int `yaml:"size" json:"size"`
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all local times are read and shown in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Store     StoreConfig  `yaml:"store" json:"store"`
	BusyFeeds []FeedConfig `yaml:"busy_feeds" json:"busy_feeds"`
	// FeedCacheDir keeps the last good copy of each busy feed.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`
	// FeedMaxBytes caps one feed download.
	FeedMaxBytes int64 `yaml:"feed_max_bytes" json:"feed_max_bytes"`

	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`

	// RefreshCron is a cron schedule for warming the cache with the
	// upcoming agenda. Empty disables the job.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "America/Toronto",
		LogLevel: "info",
		Store: StoreConfig{
			Kind:            StoreGoogle,
			CalendarID:      "primary",
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			ICSPath:         "./var/calendar.ics",
		},
		BusyFeeds:    []FeedConfig{},
		FeedCacheDir: "./var/feed-cache",
		FeedMaxBytes: 10 << 20,
		Retry:        RetryConfig{MaxAttempts: 3, BaseDelayMS: 300, MaxDelayMS: 5000, Multiplier: 2},
		Search:       SearchConfig{LookbackDays: 7, LookaheadDays: 30, MaxResults: 100},
		Schedule:     ScheduleConfig{MinGapMinutes: 0, DefaultDurationMinutes: 60, MaxEventsReturned: 50},
		Cache:        CacheConfig{Size: 64, TTLSeconds: 300},
		RefreshCron:  "*/5 * * * *",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	if c.Store.Kind == "" {
		c.Store.Kind = d.Store.Kind
	}
	if c.Store.CalendarID == "" {
		c.Store.CalendarID = d.Store.CalendarID
	}
	if c.Store.CredentialsFile == "" {
		c.Store.CredentialsFile = d.Store.CredentialsFile
	}
	if c.Store.TokenFile == "" {
		c.Store.TokenFile = d.Store.TokenFile
	}
	if c.Store.ICSPath == "" {
		c.Store.ICSPath = d.Store.ICSPath
	}
	if c.BusyFeeds == nil {
		c.BusyFeeds = []FeedConfig{}
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = d.Retry.BaseDelayMS
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = d.Retry.MaxDelayMS
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}

	if c.Search.LookbackDays < 0 {
		c.Search.LookbackDays = 0
	}
	if c.Search.LookaheadDays <= 0 {
		c.Search.LookaheadDays = d.Search.LookaheadDays
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}

	if c.Schedule.MinGapMinutes < 0 {
		c.Schedule.MinGapMinutes = 0
	}
	if c.Schedule.DefaultDurationMinutes <= 0 {
		c.Schedule.DefaultDurationMinutes = d.Schedule.DefaultDurationMinutes
	}
	if c.Schedule.MaxEventsReturned <= 0 {
		c.Schedule.MaxEventsReturned = d.Schedule.MaxEventsReturned
	}

	if c.FeedMaxBytes <= 0 {
		c.FeedMaxBytes = d.FeedMaxBytes
	}

	if c.Cache.Size < 0 {
		c.Cache.Size = 0
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = d.Cache.TTLSeconds
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreGoogle, StoreICS, StoreMemory:
	default:
		return calerr.Misconfigured("store.kind", "must be google, ics or memory, got %q", c.Store.Kind)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for i, f := range c.BusyFeeds {
		if strings.TrimSpace(f.URL) == "" {
			return calerr.Misconfigured("busy_feeds", "feed %d has no url", i)
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return calerr.Misconfigured("basic_auth", "username and password are both required")
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, calerr.Misconfigured("timezone", "unknown zone %q", c.Timezone)
	}
	return loc, nil
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overrides file settings with CALAGENT_* variables. A few legacy
// names are accepted as aliases.
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix("CALAGENT")
	v.AutomaticEnv()

	_ = v.BindEnv("listen", "CALAGENT_LISTEN")
	_ = v.BindEnv("timezone", "CALAGENT_TIMEZONE", "CALENDAR_TIMEZONE")
	_ = v.BindEnv("log_level", "CALAGENT_LOG_LEVEL")
	_ = v.BindEnv("store_kind", "CALAGENT_STORE_KIND")
	_ = v.BindEnv("calendar_id", "CALAGENT_CALENDAR_ID", "GOOGLE_CALENDAR_ID")
	_ = v.BindEnv("credentials_file", "CALAGENT_CREDENTIALS_FILE", "GOOGLE_CREDENTIALS_FILE")
	_ = v.BindEnv("token_file", "CALAGENT_TOKEN_FILE", "GOOGLE_TOKEN_FILE")
	_ = v.BindEnv("ics_path", "CALAGENT_ICS_PATH")
	_ = v.BindEnv("min_gap_minutes", "CALAGENT_MIN_GAP_MINUTES")
	_ = v.BindEnv("default_duration_minutes", "CALAGENT_DEFAULT_DURATION_MINUTES", "DEFAULT_EVENT_DURATION")
	_ = v.BindEnv("max_events_returned", "CALAGENT_MAX_EVENTS_RETURNED", "MAX_EVENTS_RETURNED")
	_ = v.BindEnv("basic_auth_username", "CALAGENT_BASIC_AUTH_USERNAME")
	_ = v.BindEnv("basic_auth_password", "CALAGENT_BASIC_AUTH_PASSWORD")

	setString := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("listen", &c.Listen)
	setString("timezone", &c.Timezone)
	setString("log_level", &c.LogLevel)
	setString("store_kind", &c.Store.Kind)
	setString("calendar_id", &c.Store.CalendarID)
	setString("credentials_file", &c.Store.CredentialsFile)
	setString("token_file", &c.Store.TokenFile)
	setString("ics_path", &c.Store.ICSPath)
	setInt("min_gap_minutes", &c.Schedule.MinGapMinutes)
	setInt("default_duration_minutes", &c.Schedule.DefaultDurationMinutes)
	setInt("max_events_returned", &c.Schedule.MaxEventsReturned)

	user, pass := v.GetString("basic_auth_username"), v.GetString("basic_auth_password")
	if user != "" || pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}

	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are not applied here; see ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, leaving the
// final file with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calagent-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
