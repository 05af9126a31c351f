package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable placeahead reads
const EnvPrefix = "PLACEAHEAD"

// Version is reported in the default User-Agent
var Version = "0.1.0"

// Config holds the configuration for placeahead
type Config struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Interval     time.Duration `mapstructure:"interval"`
	MinLength    int           `mapstructure:"min_length"`
	Endpoint     string        `mapstructure:"endpoint"`
	UserAgent    string        `mapstructure:"user_agent"`
	Limit        int           `mapstructure:"limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Cooldown     string        `mapstructure:"cooldown"`
	MaxCooldown  time.Duration `mapstructure:"max_cooldown"`
	MapsURL      string        `mapstructure:"maps_url"`
	LogLevel     string        `mapstructure:"log_level"`
	DBPath       string        `mapstructure:"db_path"`
}

// configKeys lists every key in the order reports print them
var configKeys = []string{
	"initial_delay", "interval", "min_length", "endpoint", "user_agent",
	"limit", "timeout", "rate_limit", "cache_ttl", "cooldown",
	"max_cooldown", "maps_url", "log_level", "db_path",
}

// Keys returns the configuration keys in report order
func Keys() []string {
	out := make([]string, len(configKeys))
	copy(out, configKeys)
	return out
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// ConfigSource represents where a configuration value came from
type ConfigSource int

const (
	SourceDefault ConfigSource = iota
	SourceConfigFile
	SourceEnvironment
	SourceCLIFlag
)

func (s ConfigSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceConfigFile:
		return "config file"
	case SourceEnvironment:
		return "environment variable"
	case SourceCLIFlag:
		return "CLI flag"
	default:
		return "unknown"
	}
}

// ConfigDebugInfo holds debugging information about configuration resolution
type ConfigDebugInfo struct {
	ConfigFile string
	Sources    map[string]ConfigSource
	Values     map[string]interface{}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		InitialDelay: 500 * time.Millisecond,
		Interval:     1200 * time.Millisecond,
		MinLength:    3,
		Endpoint:     "https://nominatim.openstreetmap.org/search",
		UserAgent:    "placeahead/" + Version,
		Limit:        5,
		Timeout:      10 * time.Second,
		RateLimit:    1.0,
		CacheTTL:     10 * time.Minute,
		Cooldown:     "exponential",
		MaxCooldown:  30 * time.Second,
		MapsURL:      "https://www.google.com/maps/search/?api=1&query=",
		LogLevel:     "warn",
		DBPath:       "",
	}
}

// values maps each key to its value in c
func (c *Config) values() map[string]interface{} {
	return map[string]interface{}{
		"initial_delay": c.InitialDelay,
		"interval":      c.Interval,
		"min_length":    c.MinLength,
		"endpoint":      c.Endpoint,
		"user_agent":    c.UserAgent,
		"limit":         c.Limit,
		"timeout":       c.Timeout,
		"rate_limit":    c.RateLimit,
		"cache_ttl":     c.CacheTTL,
		"cooldown":      c.Cooldown,
		"max_cooldown":  c.MaxCooldown,
		"maps_url":      c.MapsURL,
		"log_level":     c.LogLevel,
		"db_path":       c.DBPath,
	}
}

// EnvVar returns the environment variable bound to key
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// Load resolves configuration with precedence flags > environment > file >
// defaults. Only keys marked in explicitFields are taken from flagConfig.
func Load(configFile string, flagConfig *Config, explicitFields map[string]bool, debug bool) (*Config, *ConfigDebugInfo, error) {
	var debugInfo *ConfigDebugInfo
	if debug {
		debugInfo = &ConfigDebugInfo{
			ConfigFile: configFile,
			Sources:    make(map[string]ConfigSource),
			Values:     make(map[string]interface{}),
		}
	}

	v := viper.New()

	setDefaults(v)
	if debug {
		recordDefaults(debugInfo)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, debugInfo, fmt.Errorf("failed to read config file: %w", err)
		}
		if debug {
			recordConfigFile(debugInfo, v)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, key := range configKeys {
		v.BindEnv(key, EnvVar(key))
	}
	if debug {
		recordEnvironment(debugInfo)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, debugInfo, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flagConfig != nil && explicitFields != nil {
		config = *config.MergeWithExplicitFlags(flagConfig, explicitFields)
		if debug {
			recordExplicitFlags(debugInfo, flagConfig, explicitFields)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, debugInfo, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, debugInfo, nil
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(configFile string) (*Config, error) {
	config, _, err := Load(configFile, nil, nil, false)
	return config, err
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	for key, value := range Default().values() {
		v.SetDefault(key, value)
	}
}

// MergeWithExplicitFlags merges configuration with explicitly set flag values
func (c *Config) MergeWithExplicitFlags(flags *Config, explicitFields map[string]bool) *Config {
	result := *c

	if explicitFields["initial_delay"] {
		result.InitialDelay = flags.InitialDelay
	}
	if explicitFields["interval"] {
		result.Interval = flags.Interval
	}
	if explicitFields["min_length"] {
		result.MinLength = flags.MinLength
	}
	if explicitFields["endpoint"] {
		result.Endpoint = flags.Endpoint
	}
	if explicitFields["user_agent"] {
		result.UserAgent = flags.UserAgent
	}
	if explicitFields["limit"] {
		result.Limit = flags.Limit
	}
	if explicitFields["timeout"] {
		result.Timeout = flags.Timeout
	}
	if explicitFields["rate_limit"] {
		result.RateLimit = flags.RateLimit
	}
	if explicitFields["cache_ttl"] {
		result.CacheTTL = flags.CacheTTL
	}
	if explicitFields["cooldown"] {
		result.Cooldown = flags.Cooldown
	}
	if explicitFields["max_cooldown"] {
		result.MaxCooldown = flags.MaxCooldown
	}
	if explicitFields["maps_url"] {
		result.MapsURL = flags.MapsURL
	}
	if explicitFields["log_level"] {
		result.LogLevel = flags.LogLevel
	}
	if explicitFields["db_path"] {
		result.DBPath = flags.DBPath
	}

	return &result
}

// FindConfigFile searches dir for .placeahead.toml or placeahead.toml
func FindConfigFile(dir string) string {
	configNames := []string{".placeahead.toml", "placeahead.toml"}

	for _, name := range configNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return ""
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errors []ValidationError

	checkDelay := func(field string, d time.Duration) {
		if d <= 0 {
			errors = append(errors, ValidationError{Field: field, Value: d, Message: "must be greater than 0"})
		} else if d > time.Minute {
			errors = append(errors, ValidationError{Field: field, Value: d, Message: "must be 1 minute or less"})
		}
	}
	checkDelay("initial_delay", c.InitialDelay)
	checkDelay("interval", c.Interval)

	if c.MinLength < 1 || c.MinLength > 64 {
		errors = append(errors, ValidationError{
			Field:   "min_length",
			Value:   c.MinLength,
			Message: "must be between 1 and 64",
		})
	}

	if u, err := url.Parse(c.Endpoint); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "endpoint",
			Value:   c.Endpoint,
			Message: "must be an absolute http(s) URL",
		})
	}

	if strings.TrimSpace(c.UserAgent) == "" {
		errors = append(errors, ValidationError{
			Field:   "user_agent",
			Value:   c.UserAgent,
			Message: "must not be empty; public geocoders reject anonymous clients",
		})
	}

	if c.Limit < 1 || c.Limit > 50 {
		errors = append(errors, ValidationError{
			Field:   "limit",
			Value:   c.Limit,
			Message: "must be between 1 and 50",
		})
	}

	if c.Timeout < time.Second || c.Timeout > 2*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "timeout",
			Value:   c.Timeout,
			Message: "must be between 1s and 2m",
		})
	}

	if c.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rate_limit",
			Value:   c.RateLimit,
			Message: "must be greater than 0",
		})
	}

	if c.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache_ttl",
			Value:   c.CacheTTL,
			Message: "must be non-negative (0 disables the cache)",
		})
	}

	switch c.Cooldown {
	case "none", "fixed", "exponential", "jitter":
	default:
		errors = append(errors, ValidationError{
			Field:   "cooldown",
			Value:   c.Cooldown,
			Message: "must be 'none', 'fixed', 'exponential' or 'jitter'",
		})
	}

	if c.MaxCooldown < 0 || c.MaxCooldown > 10*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "max_cooldown",
			Value:   c.MaxCooldown,
			Message: "must be between 0 and 10m",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: "must be 'debug', 'info', 'warn' or 'error'",
		})
	}

	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return nil
}

// fileConfig is the on-disk shape written by WriteDefault. Durations are
// strings so the file reads like hand-written TOML.
type fileConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Interval     string  `toml:"interval"`
	MinLength    int     `toml:"min_length"`
	Endpoint     string  `toml:"endpoint"`
	UserAgent    string  `toml:"user_agent"`
	Limit        int     `toml:"limit"`
	Timeout      string  `toml:"timeout"`
	RateLimit    float64 `toml:"rate_limit"`
	CacheTTL     string  `toml:"cache_ttl"`
	Cooldown     string  `toml:"cooldown"`
	MaxCooldown  string  `toml:"max_cooldown"`
	MapsURL      string  `toml:"maps_url"`
	LogLevel     string  `toml:"log_level"`
	DBPath       string  `toml:"db_path"`
}

// WriteFile writes c as TOML to path. An existing file is only replaced when
// overwrite is set.
func (c *Config) WriteFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	out := fileConfig{
		InitialDelay: c.InitialDelay.String(),
		Interval:     c.Interval.String(),
		MinLength:    c.MinLength,
		Endpoint:     c.Endpoint,
		UserAgent:    c.UserAgent,
		Limit:        c.Limit,
		Timeout:      c.Timeout.String(),
		RateLimit:    c.RateLimit,
		CacheTTL:     c.CacheTTL.String(),
		Cooldown:     c.Cooldown,
		MaxCooldown:  c.MaxCooldown.String(),
		MapsURL:      c.MapsURL,
		LogLevel:     c.LogLevel,
		DBPath:       c.DBPath,
	}
	if err := toml.NewEncoder(file).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteDefault writes the built-in configuration to path
func WriteDefault(path string, overwrite bool) error {
	return Default().WriteFile(path, overwrite)
}

// recordDefaults records default values in debug info
func recordDefaults(debug *ConfigDebugInfo) {
	for key, value := range Default().values() {
		debug.Sources[key] = SourceDefault
		debug.Values[key] = value
	}
}

// recordConfigFile records config file values in debug info
func recordConfigFile(debug *ConfigDebugInfo, v *viper.Viper) {
	for _, key := range configKeys {
		if v.InConfig(key) {
			debug.Sources[key] = SourceConfigFile
			debug.Values[key] = v.Get(key)
		}
	}
}

// recordEnvironment records environment variable values in debug info
func recordEnvironment(debug *ConfigDebugInfo) {
	for _, key := range configKeys {
		if value := os.Getenv(EnvVar(key)); value != "" {
			debug.Sources[key] = SourceEnvironment
			debug.Values[key] = value
		}
	}
}

// recordExplicitFlags records CLI flag values that were explicitly set in debug info
func recordExplicitFlags(debug *ConfigDebugInfo, flags *Config, explicitFields map[string]bool) {
	values := flags.values()
	for _, key := range configKeys {
		if explicitFields[key] {
			debug.Sources[key] = SourceCLIFlag
			debug.Values[key] = values[key]
		}
	}
}

// PrintDebugInfo prints configuration debug information
func (debug *ConfigDebugInfo) PrintDebugInfo() {
	fmt.Fprint(os.Stderr, debug.String())
}

func (debug *ConfigDebugInfo) String() string {
	var b strings.Builder
	b.WriteString("Configuration Resolution Debug Info:\n")
	b.WriteString("===================================\n")
	if debug.ConfigFile != "" {
		fmt.Fprintf(&b, "%-20s: %s\n", "config file", debug.ConfigFile)
	}

	for _, key := range configKeys {
		fmt.Fprintf(&b, "%-20s: %-40v (from %s)\n", key, debug.Values[key], debug.Sources[key])
	}
	return b.String()
}
