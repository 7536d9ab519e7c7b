package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calagent/internal/assistant"
	"calagent/internal/calerr"
	"calagent/internal/config"
	"calagent/internal/ics"
	appLog "calagent/internal/log"
	"calagent/internal/store"
	"calagent/internal/store/google"
	"calagent/internal/store/icsfile"
)

var version = "0.1.0-dev"

// rootFlags are shared by every command.
type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	listen     string
}

// errReported means the command already printed its failure.
var errReported = errors.New("reported")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "calagent",
		Short:         "Calendar scheduling assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "./calagent.yaml", "Path to config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "Optional .env file loaded before the config")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (overrides config if set)")

	root.AddCommand(
		newServeCmd(flags),
		newEventsCmd(flags),
		newConflictsCmd(flags),
		newSlotCmd(flags),
		newRecurCmd(flags),
		newDeleteCmd(flags),
		newNowCmd(flags),
	)
	return root
}

// app is the wired runtime every command works against.
type app struct {
	cfg *config.Config
	svc *assistant.Service
}

func loadApp(ctx context.Context, flags *rootFlags) (*app, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := buildStore(ctx, cfg, loc)
	if err != nil {
		return nil, err
	}
	feeds := buildFeeds(cfg, loc)

	appLog.Info("effective config",
		"config_path", flags.configPath,
		"store", cfg.Store.Kind,
		"timezone", loc.String(),
		"busy_feeds", len(feeds),
		"cache_size", cfg.Cache.Size,
		"retry_attempts", cfg.Retry.MaxAttempts,
	)

	svc := assistant.New(st, serviceOptions(cfg, loc), feeds...)
	return &app{cfg: cfg, svc: svc}, nil
}

func serviceOptions(cfg *config.Config, loc *time.Location) assistant.Options {
	return assistant.Options{
		Location:          loc,
		MinGap:            cfg.Schedule.MinGap(),
		DefaultDuration:   cfg.Schedule.DefaultDuration(),
		MaxEventsReturned: cfg.Schedule.MaxEventsReturned,
		Lookback:          time.Duration(cfg.Search.LookbackDays) * 24 * time.Hour,
		Lookahead:         time.Duration(cfg.Search.LookaheadDays) * 24 * time.Hour,
		MaxSearchResults:  cfg.Search.MaxResults,
	}
}

// buildStore opens the configured calendar and wraps it with retry and,
// when enabled, the fetch cache.
func buildStore(ctx context.Context, cfg *config.Config, loc *time.Location) (store.Store, error) {
	var base store.Store
	switch cfg.Store.Kind {
	case config.StoreGoogle:
		g, err := google.NewFromFiles(ctx, cfg.Store.CredentialsFile, cfg.Store.TokenFile, cfg.Store.CalendarID, loc)
		if err != nil {
			return nil, err
		}
		base = g
	case config.StoreICS:
		base = icsfile.New(cfg.Store.ICSPath, loc)
	case config.StoreMemory:
		appLog.Warn("using the in-memory store; events are lost on exit")
		base = store.NewMemory()
	default:
		return nil, calerr.Misconfigured("store.kind", "unknown store %q", cfg.Store.Kind)
	}

	s := store.Store(store.WithRetry(base, store.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
		Multiplier:  cfg.Retry.Multiplier,
	}))
	if cfg.Cache.Size > 0 {
		s = store.WithCache(s, cfg.Cache.Size, cfg.Cache.TTL())
	}
	return s, nil
}

func buildFeeds(cfg *config.Config, loc *time.Location) []store.Reader {
	if len(cfg.BusyFeeds) == 0 {
		return nil
	}
	fetcher := ics.NewFetcher(&http.Client{Timeout: 30 * time.Second}, cfg.FeedCacheDir, cfg.FeedMaxBytes)
	feeds := make([]store.Reader, 0, len(cfg.BusyFeeds))
	for i, f := range cfg.BusyFeeds {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("feed%d", i+1)
		}
		feeds = append(feeds, ics.NewFeed(ics.Subscription{Name: name, URL: f.URL}, fetcher, loc))
	}
	return feeds
}
