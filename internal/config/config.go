// Package config implements TOML configuration loading and path resolution
// for syncwatch. Resolution order is defaults -> config file -> environment
// -> CLI flags; later layers win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for every tunable. Durations are strings so the config file and
// environment can use "30s" / "2m" forms parsed by time.ParseDuration.
const (
	DefaultRequestTimeout       = "30s"
	DefaultRefreshInterval      = "30s"
	DefaultExpiryThreshold      = "2m"
	DefaultMinRefreshGap        = "10s"
	DefaultInitialBackoff       = "1s"
	DefaultMaxBackoff           = "30s"
	DefaultMaxReconnectAttempts = 5
)

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Stream  StreamConfig  `toml:"stream"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig locates the catalog-sync server.
type ServerConfig struct {
	// BaseURL is the REST API root, e.g. "https://catalog.example.com/api".
	BaseURL string `toml:"base_url"`
	// SyncBaseURL is the root for the sync job endpoints, including the
	// event stream. Defaults to BaseURL when empty.
	SyncBaseURL    string `toml:"sync_base_url"`
	RequestTimeout string `toml:"request_timeout"`
}

// AuthConfig tunes the activity-gated credential refresher.
type AuthConfig struct {
	// RefreshInterval is how often the refresher re-evaluates the credential.
	RefreshInterval string `toml:"refresh_interval"`
	// ExpiryThreshold is how close to expiry a credential must be before a
	// refresh is considered.
	ExpiryThreshold string `toml:"expiry_threshold"`
	// MinRefreshGap is the minimum spacing between refresh attempts
	// regardless of how many triggers fire.
	MinRefreshGap string `toml:"min_refresh_gap"`
}

// StreamConfig tunes event-stream reconnection.
type StreamConfig struct {
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	InitialBackoff       string `toml:"initial_backoff"`
	MaxBackoff           string `toml:"max_backoff"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is "text", "json", or "" for auto (text on a terminal).
	Format string `toml:"format"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
		Auth: AuthConfig{
			RefreshInterval: DefaultRefreshInterval,
			ExpiryThreshold: DefaultExpiryThreshold,
			MinRefreshGap:   DefaultMinRefreshGap,
		},
		Stream: StreamConfig{
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			InitialBackoff:       DefaultInitialBackoff,
			MaxBackoff:           DefaultMaxBackoff,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and validates the config file at path, applies environment
// overrides, and fills unset fields from defaults. A missing file is fine:
// defaults plus environment are returned.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("no config file, using defaults", slog.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if _, decErr := toml.Decode(string(data), cfg); decErr != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, decErr)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays SYNCWATCH_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SYNCWATCH_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}

	if v := os.Getenv("SYNCWATCH_SYNC_URL"); v != "" {
		cfg.Server.SyncBaseURL = v
	}

	if v := os.Getenv("SYNCWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDefaults fills fields the file and environment left empty.
func applyDefaults(cfg *Config) {
	if cfg.Server.SyncBaseURL == "" {
		cfg.Server.SyncBaseURL = cfg.Server.BaseURL
	}

	if cfg.Server.RequestTimeout == "" {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Auth.RefreshInterval == "" {
		cfg.Auth.RefreshInterval = DefaultRefreshInterval
	}

	if cfg.Auth.ExpiryThreshold == "" {
		cfg.Auth.ExpiryThreshold = DefaultExpiryThreshold
	}

	if cfg.Auth.MinRefreshGap == "" {
		cfg.Auth.MinRefreshGap = DefaultMinRefreshGap
	}

	if cfg.Stream.MaxReconnectAttempts == 0 {
		cfg.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if cfg.Stream.InitialBackoff == "" {
		cfg.Stream.InitialBackoff = DefaultInitialBackoff
	}

	if cfg.Stream.MaxBackoff == "" {
		cfg.Stream.MaxBackoff = DefaultMaxBackoff
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that every duration parses and enum fields hold known
// values. Called by Load; exported for tests and for callers that build a
// Config programmatically.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.request_timeout": c.Server.RequestTimeout,
		"auth.refresh_interval":  c.Auth.RefreshInterval,
		"auth.expiry_threshold":  c.Auth.ExpiryThreshold,
		"auth.min_refresh_gap":   c.Auth.MinRefreshGap,
		"stream.initial_backoff": c.Stream.InitialBackoff,
		"stream.max_backoff":     c.Stream.MaxBackoff,
	}

	for field, val := range durations {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("config: %s: invalid duration %q: %w", field, val, err)
		}
	}

	if c.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: stream.max_reconnect_attempts must be >= 0, got %d",
			c.Stream.MaxReconnectAttempts)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level: unknown level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logging.format: unknown format %q", c.Logging.Format)
	}

	return nil
}

// Duration parses a validated duration field. Panics on unparseable input,
// which Validate has already ruled out.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: Duration(%q) on unvalidated field: %v", s, err))
	}

	return d
}
