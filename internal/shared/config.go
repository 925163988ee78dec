package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Events    EventsConfig    `toml:"events"`
	Health    HealthConfig    `toml:"health"`
	Downloads DownloadsConfig `toml:"downloads"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Slskd     SlskdConfig     `toml:"slskd"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// EventsConfig bounds the event bus history and correlation chains.
type EventsConfig struct {
	HistorySize int `toml:"history_size"`
	MaxHops     int `toml:"max_hops"`
}

// HealthConfig controls the health monitor loop.
type HealthConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

// DownloadsConfig controls the download service lifecycle.
type DownloadsConfig struct {
	MaxRetries              int     `toml:"max_retries"`
	BaseDelaySeconds        float64 `toml:"base_delay_seconds"`
	MaxDelaySeconds         float64 `toml:"max_delay_seconds"`
	Workers                 int     `toml:"workers"`
	ProgressIntervalSeconds float64 `toml:"progress_interval_seconds"`
	RetentionDays           int     `toml:"retention_days"`
	TempDir                 string  `toml:"temp_dir"`
	LibraryDir              string  `toml:"library_dir"`
}

// BreakerConfig controls the circuit breaker wrapping the transfer client.
type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// SlskdConfig contains connection settings for the slskd daemon.
type SlskdConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	DownloadsDir string `toml:"downloads_dir"`
}

// SecondsDuration converts a fractional seconds value to a [time.Duration].
func SecondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// HealthInterval returns the monitor tick interval as a [time.Duration].
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

// HealthTimeout returns the per-probe timeout as a [time.Duration].
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutSeconds) * time.Second
}

// ProgressInterval returns the minimum spacing between progress events per download.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Downloads.ProgressIntervalSeconds * float64(time.Second))
}

// BreakerCooldown returns the open-state cooldown as a [time.Duration].
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
