// Package config manages safetrack daemon configuration
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/logging"
)

// FileName is the config file inside the data directory
const FileName = "config.yaml"

// Environment overrides
const (
	EnvDataDir    = "SAFETRACK_DATA_DIR"
	EnvListenAddr = "SAFETRACK_LISTEN_ADDR"
	EnvLogLevel   = "SAFETRACK_LOG_LEVEL"
	EnvAPIKey     = "SAFETRACK_API_KEY"
)

// Location provider kinds
const (
	ProviderFixed = "fixed"
	ProviderHTTP  = "http"
)

// Messenger kinds
const (
	MessengerLog     = "log"
	MessengerWebhook = "webhook"
)

// StorageConfig locates the database and controls retention
type StorageConfig struct {
	File          string        `yaml:"file"`
	RetentionDays int           `yaml:"retention_days"` // 0 disables automatic pruning
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DefaultsConfig supplies settings values used when the store has none
type DefaultsConfig struct {
	LocationIntervalMinutes  int     `yaml:"location_interval_minutes"`
	InactivityThresholdHours float64 `yaml:"inactivity_threshold_hours"`
}

// MonitorConfig tunes the inactivity monitor
type MonitorConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	DispatchDelay time.Duration `yaml:"dispatch_delay"`
	AlertCooldown time.Duration `yaml:"alert_cooldown"` // 0 re-sends on every breached check
}

// LocationConfig selects where fixes come from
type LocationConfig struct {
	Provider  string        `yaml:"provider"`
	Latitude  float64       `yaml:"latitude,omitempty"`
	Longitude float64       `yaml:"longitude,omitempty"`
	URL       string        `yaml:"url,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MessengerConfig selects how alerts leave the device
type MessengerConfig struct {
	Kind       string        `yaml:"kind"`
	WebhookURL string        `yaml:"webhook_url,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PermissionConfig is the answer of the static permission oracle
type PermissionConfig struct {
	Granted bool `yaml:"granted"`
}

// ServerConfig controls the control API listener
type ServerConfig struct {
	ListenAddr        string  `yaml:"listen_addr"`
	Metrics           bool    `yaml:"metrics"`
	APIKey            string  `yaml:"api_key,omitempty"` // empty disables authentication
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables rate limiting
	Burst             int     `yaml:"burst"`
}

// Config represents the safetrack daemon configuration
type Config struct {
	Log        logging.Config   `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Location   LocationConfig   `yaml:"location"`
	Messenger  MessengerConfig  `yaml:"messenger"`
	Permission PermissionConfig `yaml:"permission"`
	Server     ServerConfig     `yaml:"server"`

	// Paths (not serialized)
	DataDir string `yaml:"-"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Log: logging.DefaultConfig(),
		Storage: StorageConfig{
			File:          "safety_tracker.db",
			RetentionDays: 30,
			PruneInterval: 24 * time.Hour,
		},
		Defaults: DefaultsConfig{
			LocationIntervalMinutes:  15,
			InactivityThresholdHours: 24,
		},
		Monitor: MonitorConfig{
			CheckInterval: time.Hour,
			DispatchDelay: time.Second,
		},
		Location: LocationConfig{
			Provider: ProviderFixed,
			Timeout:  30 * time.Second,
		},
		Messenger: MessengerConfig{
			Kind:    MessengerLog,
			Timeout: 10 * time.Second,
		},
		Permission: PermissionConfig{Granted: true},
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:8087",
			Metrics:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// DefaultDataDir returns the default data directory
func DefaultDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".safetrack")
}

// Load reads config.yaml from dataDir. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	cfg := Default()
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.DataDir = dataDir
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Exists checks if a config file exists
func Exists(dataDir string) bool {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	_, err := os.Stat(filepath.Join(dataDir, FileName))
	return err == nil
}

// Save writes the configuration to the data directory
func (c *Config) Save() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}

	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(c.DataDir, FileName), data, 0600)
}

func (c *Config) applyEnv() {
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		c.Server.ListenAddr = addr
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
	if key := os.Getenv(EnvAPIKey); key != "" {
		c.Server.APIKey = key
	}
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Storage.File == "":
		return apperrors.Invalid("storage.file", nil, "must not be empty")
	case c.Storage.RetentionDays < 0:
		return apperrors.Invalid("storage.retention_days", c.Storage.RetentionDays, "must not be negative")
	case c.Storage.RetentionDays > 0 && c.Storage.PruneInterval <= 0:
		return apperrors.Invalid("storage.prune_interval", c.Storage.PruneInterval, "must be positive when retention is enabled")
	case c.Defaults.LocationIntervalMinutes < 1:
		return apperrors.Invalid("defaults.location_interval_minutes", c.Defaults.LocationIntervalMinutes, "must be at least 1")
	case c.Defaults.InactivityThresholdHours <= 0:
		return apperrors.Invalid("defaults.inactivity_threshold_hours", c.Defaults.InactivityThresholdHours, "must be greater than 0")
	case c.Monitor.CheckInterval <= 0:
		return apperrors.Invalid("monitor.check_interval", c.Monitor.CheckInterval, "must be positive")
	case c.Monitor.DispatchDelay < 0:
		return apperrors.Invalid("monitor.dispatch_delay", c.Monitor.DispatchDelay, "must not be negative")
	case c.Monitor.AlertCooldown < 0:
		return apperrors.Invalid("monitor.alert_cooldown", c.Monitor.AlertCooldown, "must not be negative")
	case c.Server.RequestsPerSecond < 0:
		return apperrors.Invalid("server.requests_per_second", c.Server.RequestsPerSecond, "must not be negative")
	case c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1:
		return apperrors.Invalid("server.burst", c.Server.Burst, "must be at least 1 when rate limiting")
	}

	switch c.Location.Provider {
	case ProviderFixed:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 || c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return apperrors.Invalid("location", nil, "fixed coordinates out of range")
		}
	case ProviderHTTP:
		if c.Location.URL == "" {
			return apperrors.Invalid("location.url", nil, "required for the http provider")
		}
	default:
		return apperrors.Invalid("location.provider", c.Location.Provider, "must be fixed or http")
	}

	switch c.Messenger.Kind {
	case MessengerLog:
	case MessengerWebhook:
		if c.Messenger.WebhookURL == "" {
			return apperrors.Invalid("messenger.webhook_url", nil, "required for the webhook messenger")
		}
	default:
		return apperrors.Invalid("messenger.kind", c.Messenger.Kind, "must be log or webhook")
	}
	return nil
}

// DatabasePath returns the absolute path of the SQLite file
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Storage.File) {
		return c.Storage.File
	}
	return filepath.Join(c.DataDir, c.Storage.File)
}
