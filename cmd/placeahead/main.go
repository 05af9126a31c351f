package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shaneisley/placeahead/pkg/backoff"
	"github.com/shaneisley/placeahead/pkg/config"
	"github.com/shaneisley/placeahead/pkg/logging"
	"github.com/shaneisley/placeahead/pkg/metrics"
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/scheduler"
	"github.com/shaneisley/placeahead/pkg/storage"
	"github.com/shaneisley/placeahead/pkg/timer"
	"github.com/shaneisley/placeahead/pkg/ui"
	"github.com/spf13/cobra"
)

// flagKeys maps each configuration flag to its config key
var flagKeys = map[string]string{
	"initial-delay": "initial_delay",
	"interval":      "interval",
	"min-length":    "min_length",
	"endpoint":      "endpoint",
	"user-agent":    "user_agent",
	"limit":         "limit",
	"timeout":       "timeout",
	"rate-limit":    "rate_limit",
	"cache-ttl":     "cache_ttl",
	"cooldown":      "cooldown",
	"max-cooldown":  "max_cooldown",
	"maps-url":      "maps_url",
	"log-level":     "log_level",
	"db-path":       "db_path",
}

// app holds the flag values and streams of one command tree
type app struct {
	flagConfig  config.Config
	configFile  string
	debugConfig bool
	quiet       bool
	verbose     bool
	noColor     bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp() *app {
	return &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "placeahead",
		Short: "Throttled location autocomplete against a geocoding service",
		Long: `placeahead turns keystrokes into geocoding requests without flooding the
provider. The first request goes out once typing pauses; after that at most
one request is sent per interval, only when the text changed, and only the
newest response is ever shown. Accepting a suggestion stops requests until
the text is edited again.

Configuration precedence (highest to lowest):
1. CLI flags
2. Environment variables (PLACEAHEAD_*)
3. Configuration file
4. Default values

The tool looks for configuration files in the following order:
1. File specified by --config flag
2. .placeahead.toml or placeahead.toml in current directory
3. .placeahead.toml or placeahead.toml in home directory

A .env file in the current directory is loaded before anything else.

EXAMPLES:
  # One-shot lookup
  placeahead search "Lisbon"

  # Type interactively; each line is the full input text
  placeahead type --verbose

  # Replay a keystroke script on a virtual clock
  placeahead replay --offline typing.script

  # Drive a session from an editor over msgpack on stdin/stdout
  placeahead serve

  # Slower cadence against a self-hosted endpoint
  PLACEAHEAD_INTERVAL=2s placeahead --endpoint http://localhost:8080/search type`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Configuration file path")
	flags.BoolVar(&a.debugConfig, "debug-config", false, "Show configuration resolution debug information")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Only print suggestions and selections")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Also print scheduler mode changes")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	flags.DurationVar(&a.flagConfig.InitialDelay, "initial-delay", 0, "Quiet period before the first request (default: 500ms)")
	flags.DurationVar(&a.flagConfig.Interval, "interval", 0, "Minimum spacing between requests while typing (default: 1.2s)")
	flags.IntVar(&a.flagConfig.MinLength, "min-length", 0, "Minimum trimmed length that triggers requests (default: 3)")
	flags.StringVar(&a.flagConfig.Endpoint, "endpoint", "", "Nominatim compatible search endpoint")
	flags.StringVar(&a.flagConfig.UserAgent, "user-agent", "", "User-Agent sent to the provider")
	flags.IntVar(&a.flagConfig.Limit, "limit", 0, "Maximum suggestions per request (default: 5)")
	flags.DurationVarP(&a.flagConfig.Timeout, "timeout", "t", 0, "Timeout per request (default: 10s)")
	flags.Float64Var(&a.flagConfig.RateLimit, "rate-limit", 0, "Provider requests per second (default: 1)")
	flags.DurationVar(&a.flagConfig.CacheTTL, "cache-ttl", 0, "Response cache lifetime, 0 disables (default: 10m)")
	flags.StringVar(&a.flagConfig.Cooldown, "cooldown", "", "Cooldown after provider failures (default: exponential)\n                                 Options: none, fixed, exponential, jitter")
	flags.DurationVar(&a.flagConfig.MaxCooldown, "max-cooldown", 0, "Maximum cooldown after failures (default: 30s)")
	flags.StringVar(&a.flagConfig.MapsURL, "maps-url", "", "Prefix of the derived maps URL")
	flags.StringVar(&a.flagConfig.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn)")
	flags.StringVar(&a.flagConfig.DBPath, "db-path", "", "SQLite request log, disabled when empty")

	root.AddCommand(
		newSearchCommand(a),
		newTypeCommand(a),
		newReplayCommand(a),
		newServeCommand(a),
		newStatsCommand(a),
		newConfigCommand(a),
	)
	return root
}

// loadConfiguration loads configuration with full precedence support
func (a *app) loadConfiguration(cmd *cobra.Command) (*config.Config, error) {
	cfg, debugInfo, err := a.resolve(cmd, a.debugConfig)
	if err != nil {
		return nil, err
	}

	if a.debugConfig && debugInfo != nil {
		fmt.Fprintln(a.stderr, debugInfo.String())
	}
	return cfg, nil
}

func (a *app) resolve(cmd *cobra.Command, debug bool) (*config.Config, *config.ConfigDebugInfo, error) {
	configPath := a.configFile
	if configPath == "" {
		cwd, _ := os.Getwd()
		if found := config.FindConfigFile(cwd); found != "" {
			configPath = found
		} else if homeDir, err := os.UserHomeDir(); err == nil {
			configPath = config.FindConfigFile(homeDir)
		}
	}

	var flagConfig *config.Config
	explicitFields := explicitFlags(cmd)
	if len(explicitFields) > 0 {
		flagConfig = &a.flagConfig
	}

	return config.Load(configPath, flagConfig, explicitFields, debug)
}

// explicitFlags returns the config keys whose flags were set on the command line
func explicitFlags(cmd *cobra.Command) map[string]bool {
	explicit := make(map[string]bool)
	for flag, key := range flagKeys {
		if cmd.Flags().Changed(flag) {
			explicit[key] = true
		}
	}
	return explicit
}

// deps is everything a command needs once configuration is resolved
type deps struct {
	cfg      *config.Config
	logger   *logging.Logger
	provider provider.Provider
	db       *storage.Database
	metrics  *metrics.SessionMetrics
	reporter *ui.Reporter
}

func (a *app) setup(cmd *cobra.Command) (*deps, error) {
	cfg, err := a.loadConfiguration(cmd)
	if err != nil {
		return nil, err
	}

	logger := logging.NewWithWriter(a.stderr, "placeahead", logging.LogLevel(cfg.LogLevel))

	rt := &deps{
		cfg:    cfg,
		logger: logger,
		provider: provider.NewNominatim(provider.Config{
			Endpoint:       cfg.Endpoint,
			UserAgent:      cfg.UserAgent,
			Limit:          cfg.Limit,
			Timeout:        cfg.Timeout,
			RequestsPerSec: cfg.RateLimit,
			CacheTTL:       cfg.CacheTTL,
		}),
		metrics:  metrics.NewSessionMetrics(),
		reporter: ui.NewReporter(a.stdout),
	}
	rt.reporter.SetQuiet(a.quiet)
	rt.reporter.SetVerbose(a.verbose)
	if a.noColor {
		rt.reporter.SetColor(false)
	}

	if cfg.DBPath != "" {
		db, err := storage.NewDatabase(expandHome(cfg.DBPath))
		if err != nil {
			return nil, fmt.Errorf("failed to open request log: %w", err)
		}
		db.SetLogger(logger.WithComponent("storage"))
		logger.Debug("recording provider requests", "path", db.Path())
		rt.db = db
	}
	return rt, nil
}

func (rt *deps) close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.LogError("close request log", err)
		}
	}
}

// recorder returns the request log as a metrics.Recorder, or nil
func (rt *deps) recorder() metrics.Recorder {
	if rt.db == nil {
		return nil
	}
	return rt.db
}

func (rt *deps) schedulerOptions(clock timer.Clock, observer scheduler.Observer) scheduler.Options {
	return scheduler.Options{
		Provider:     rt.provider,
		Clock:        clock,
		InitialDelay: rt.cfg.InitialDelay,
		Interval:     rt.cfg.Interval,
		MinLength:    rt.cfg.MinLength,
		Timeout:      rt.cfg.Timeout,
		Cooldown:     backoff.New(rt.cfg.Cooldown, rt.cfg.Interval, rt.cfg.MaxCooldown),
		MaxCooldown:  rt.cfg.MaxCooldown,
		Observer:     observer,
		Metrics:      rt.metrics,
		Recorder:     rt.recorder(),
		Logger:       rt.logger.WithComponent("scheduler"),
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// loadDotEnv loads path into the environment; a missing file is not an error
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := newRootCommand(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
