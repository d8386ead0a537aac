package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safetrack/internal/app"
	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/platform"
	"github.com/lcrostarosa/safetrack/internal/testutil"
)

func openApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.New(cfg,
		app.WithClock(testutil.NewClock()),
		app.WithPlatform(&platform.Collaborators{
			Permission: platform.NewStaticPermission(true),
			Locator:    testutil.NewFakeLocator(),
			Messenger:  testutil.NewFakeMessenger(),
		}))
	require.NoError(t, err)
	return a
}

// TestRestart_StatePersists verifies that settings, the last open and the
// location history survive closing and reopening the data directory.
func TestRestart_StatePersists(t *testing.T) {
	fixture := testutil.NewConfigFixture(t).MustBuild()
	ctx := context.Background()

	a := openApp(t, fixture.Config)
	require.NoError(t, a.Settings.SetLocationInterval(ctx, 5))
	require.NoError(t, a.Settings.SetContacts(ctx, []string{"+1 555 123 0001"}))
	opened := a.Liveness.RecordOpen(ctx)
	for i := 0; i < 3; i++ {
		_, err := a.Capture.CaptureOnce(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())

	_, err := os.Stat(fixture.Config.DatabasePath())
	require.NoError(t, err, "database file written")

	a = openApp(t, fixture.Config)
	defer a.Close()

	s, err := a.Settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.LocationIntervalMinutes)
	assert.Equal(t, []string{"+1 555 123 0001"}, s.SOSContacts, "stored as entered")
	assert.Equal(t, 24.0, s.InactivityThresholdHours, "default kept")

	last, ok, err := a.Liveness.LastOpen(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(opened))

	n, err := a.Locations.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.State.String(), "jobs do not auto-resume on open")
}

// TestRestart_MinimalConfigFile loads a hand-written config that only names
// a few keys and checks the rest fall back to defaults.
func TestRestart_MinimalConfigFile(t *testing.T) {
	dir := t.TempDir()
	minimal := `
location:
  provider: fixed
  latitude: 48.8566
  longitude: 2.3522
monitor:
  check_interval: 30m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(minimal), 0600))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.CheckInterval)
	assert.Equal(t, config.Default().Storage.File, cfg.Storage.File)
	assert.Equal(t, config.MessengerLog, cfg.Messenger.Kind)

	a, err := app.New(cfg, app.WithClock(testutil.NewClock()))
	require.NoError(t, err)
	defer a.Close()

	rec, err := a.Capture.CaptureOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48.8566, rec.Latitude)
	assert.Equal(t, 2.3522, rec.Longitude)
}
