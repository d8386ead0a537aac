package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lcrostarosa/safetrack/internal/config"
)

// ConfigFixture represents a test configuration setup
type ConfigFixture struct {
	// Dir is the data directory path
	Dir string
	// Config is the loaded configuration
	Config *config.Config
}

// ConfigFixtureBuilder constructs config fixtures
type ConfigFixtureBuilder struct {
	t   *testing.T
	dir string
	cfg *config.Config
}

// NewConfigFixture starts building a config fixture from the defaults. The
// listener binds an ephemeral port and the dispatch delay is zero so tests
// don't wait.
func NewConfigFixture(t *testing.T) *ConfigFixtureBuilder {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Monitor.DispatchDelay = 0
	cfg.Log.Level = "error"
	return &ConfigFixtureBuilder{t: t, dir: t.TempDir(), cfg: cfg}
}

// WithDir sets the data directory
func (b *ConfigFixtureBuilder) WithDir(dir string) *ConfigFixtureBuilder {
	b.dir = dir
	return b
}

// WithDefaults sets the settings defaults
func (b *ConfigFixtureBuilder) WithDefaults(intervalMinutes int, thresholdHours float64) *ConfigFixtureBuilder {
	b.cfg.Defaults.LocationIntervalMinutes = intervalMinutes
	b.cfg.Defaults.InactivityThresholdHours = thresholdHours
	return b
}

// WithFixedLocation uses the fixed provider at lat, lon
func (b *ConfigFixtureBuilder) WithFixedLocation(lat, lon float64) *ConfigFixtureBuilder {
	b.cfg.Location.Provider = config.ProviderFixed
	b.cfg.Location.Latitude = lat
	b.cfg.Location.Longitude = lon
	return b
}

// WithWebhook uses the webhook messenger
func (b *ConfigFixtureBuilder) WithWebhook(url string) *ConfigFixtureBuilder {
	b.cfg.Messenger.Kind = config.MessengerWebhook
	b.cfg.Messenger.WebhookURL = url
	return b
}

// WithPermission sets the static permission answer
func (b *ConfigFixtureBuilder) WithPermission(granted bool) *ConfigFixtureBuilder {
	b.cfg.Permission.Granted = granted
	return b
}

// WithCheckInterval sets the monitor period
func (b *ConfigFixtureBuilder) WithCheckInterval(d time.Duration) *ConfigFixtureBuilder {
	b.cfg.Monitor.CheckInterval = d
	return b
}

// WithAPIKey requires clients to present key
func (b *ConfigFixtureBuilder) WithAPIKey(key string) *ConfigFixtureBuilder {
	b.cfg.Server.APIKey = key
	return b
}

// WithRetention sets the automatic pruning window
func (b *ConfigFixtureBuilder) WithRetention(days int) *ConfigFixtureBuilder {
	b.cfg.Storage.RetentionDays = days
	return b
}

// Build creates the config fixture, writing config.yaml to disk and loading
// it back through config.Load
func (b *ConfigFixtureBuilder) Build() (*ConfigFixture, error) {
	data, err := yaml.Marshal(b.cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(b.dir, config.FileName), data, 0600); err != nil {
		return nil, err
	}

	cfg, err := config.Load(b.dir)
	if err != nil {
		return nil, err
	}
	return &ConfigFixture{Dir: b.dir, Config: cfg}, nil
}

// MustBuild creates the fixture or fails the test
func (b *ConfigFixtureBuilder) MustBuild() *ConfigFixture {
	f, err := b.Build()
	if err != nil {
		b.t.Fatalf("Failed to build config fixture: %v", err)
	}
	return f
}
