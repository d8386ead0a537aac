package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lcrostarosa/safetrack/internal/app"
	"github.com/lcrostarosa/safetrack/internal/config"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/logging"
	"github.com/lcrostarosa/safetrack/internal/platform"
	"github.com/lcrostarosa/safetrack/internal/settings"
	"github.com/lcrostarosa/safetrack/internal/storage"
	"github.com/lcrostarosa/safetrack/internal/testutil"
)

type harness struct {
	app       *app.App
	client    *Client
	clock     *clockwork.FakeClock
	perm      *platform.StaticPermission
	locator   *testutil.FakeLocator
	messenger *testutil.FakeMessenger
	logs      *logging.RingBuffer
	url       string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Monitor.DispatchDelay = 0

	h := &harness{
		clock:     testutil.NewClock(),
		perm:      platform.NewStaticPermission(true),
		locator:   testutil.NewFakeLocator(),
		messenger: testutil.NewFakeMessenger(),
		logs:      logging.NewRingBuffer(100),
	}
	log := zap.New(h.logs.Core(zapcore.InfoLevel))

	a, err := app.New(cfg,
		app.WithClock(h.clock),
		app.WithLogger(log),
		app.WithLogBuffer(h.logs),
		app.WithDatabasePath(storage.MemoryPath),
		app.WithPlatform(&platform.Collaborators{
			Permission: h.perm,
			Locator:    h.locator,
			Messenger:  h.messenger,
		}))
	require.NoError(t, err)
	h.app = a

	if opts.Clock == nil {
		opts.Clock = h.clock
	}
	mux := http.NewServeMux()
	NewServer(a, opts).RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})

	h.url = srv.URL
	h.client = NewClient(srv.Client(), srv.URL, opts.APIKey)
	return h
}

func TestStatusStartStop(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Fields["state"].GetStringValue())

	st, err = h.client.StartAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Fields["state"].GetStringValue())
	capture := st.Fields["capture"].GetStructValue()
	assert.True(t, capture.Fields["active"].GetBoolValue())
	assert.Equal(t, 15.0, capture.Fields["interval_minutes"].GetNumberValue())
	assert.Equal(t, 1.0, st.Fields["stats"].GetStructValue().Fields["location_logs"].GetNumberValue())

	st, err = h.client.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Fields["state"].GetStringValue())

	st, err = h.client.StopAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Fields["state"].GetStringValue())
	assert.False(t, h.app.Supervisor.IsRunning())
}

func TestStartAll_PermissionDenied(t *testing.T) {
	h := newHarness(t, Options{})
	h.perm.Set(false)

	_, err := h.client.StartAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	assert.False(t, h.app.Supervisor.IsRunning())
}

func TestSettings(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	st, err := h.client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15.0, st.Fields[settings.KeyLocationInterval].GetNumberValue())
	assert.Empty(t, st.Fields[settings.KeySOSContacts].GetListValue().GetValues())

	st, err = h.client.UpdateSettings(ctx, map[string]any{
		settings.KeyInactivityThreshold: 6.5,
		settings.KeySOSContacts:         []any{"+1 555 123 0001"},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.5, st.Fields[settings.KeyInactivityThreshold].GetNumberValue())
	contacts := st.Fields[settings.KeySOSContacts].GetListValue().GetValues()
	require.Len(t, contacts, 1)
	assert.Equal(t, 15.0, st.Fields[settings.KeyLocationInterval].GetNumberValue(), "absent field unchanged")
}

func TestUpdateSettings_RestartsRunningJobs(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.client.StartAll(ctx)
	require.NoError(t, err)

	_, err = h.client.UpdateSettings(ctx, map[string]any{settings.KeyLocationInterval: 5})
	require.NoError(t, err)
	assert.True(t, h.app.Supervisor.IsRunning())
	assert.Equal(t, 5*time.Minute, h.app.Capture.Interval())
}

func TestUpdateSettings_Rejected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"invalid contact", map[string]any{settings.KeySOSContacts: []any{"+1234567890123456"}}},
		{"fractional interval", map[string]any{settings.KeyLocationInterval: 1.5}},
		{"zero threshold", map[string]any{settings.KeyInactivityThreshold: 0}},
		{"contacts not a list", map[string]any{settings.KeySOSContacts: "+15551230001"}},
		{"unknown field", map[string]any{"volume": 11}},
		{"empty", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.UpdateSettings(ctx, tt.fields)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
			assert.NotContains(t, err.Error(), "234567890")
		})
	}

	st, err := h.client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Fields[settings.KeySOSContacts].GetListValue().GetValues(), "nothing persisted")
}

func TestLocations(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	rec, err := h.client.CaptureOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 52.52, rec.Fields["latitude"].GetNumberValue())
	assert.Equal(t, testutil.Epoch.Format(time.RFC3339Nano), rec.Fields["timestamp"].GetStringValue())

	h.clock.Advance(time.Minute)
	_, err = h.client.CaptureOnce(ctx)
	require.NoError(t, err)

	list, err := h.client.RecentLocations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Values, 2)

	list, err = h.client.RecentLocations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list.Values, 1)

	h.clock.Advance(48 * time.Hour)
	n, err := h.client.PruneLocations(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = h.client.PruneLocations(ctx, -1)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCaptureOnce_PermissionDenied(t *testing.T) {
	h := newHarness(t, Options{})
	h.perm.Set(false)

	_, err := h.client.CaptureOnce(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestRecordOpenAndCheckNow(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.app.Settings.SetContacts(ctx, []string{"+15551230001", "+15551230002"}))

	at, err := h.client.RecordOpen(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(testutil.Epoch))

	rep, err := h.client.CheckNow(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Fields["breached"].GetBoolValue())

	h.clock.Advance(25 * time.Hour)
	rep, err = h.client.CheckNow(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Fields["breached"].GetBoolValue())
	assert.Equal(t, 2.0, rep.Fields["sent"].GetNumberValue())
	assert.Contains(t, rep.Fields["message"].GetStringValue(), " 25 hours")
	assert.Len(t, h.messenger.Sent(), 2)

	alerts, err := h.client.Alerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts.Values, 2)
	assert.True(t, alerts.Values[0].GetStructValue().Fields["delivered"].GetBoolValue())

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().UTC().Format(time.RFC3339Nano), st.Fields["last_alert"].GetStringValue())
}

func TestCheckNow_BusyWhileStartupCheckDispatches(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.app.Settings.SetContacts(ctx, []string{"+15551230001", "+15551230002"}))
	h.app.Liveness.RecordOpen(ctx)
	h.clock.Advance(25 * time.Hour)
	entered := h.messenger.Block()
	defer h.messenger.Release()

	_, err := h.client.StartAll(ctx)
	require.NoError(t, err)
	<-entered

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Fields["state"].GetStringValue())

	_, err = h.client.CheckNow(ctx)
	assert.Equal(t, connect.CodeAborted, connect.CodeOf(err))
	assert.ErrorIs(t, err, apperrors.ErrBusy)

	h.messenger.Release()
	assert.Eventually(t, func() bool { return len(h.messenger.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.messenger.Sent(), 2, "no duplicate alerts")
}

func TestCaptureOnce_BusyWhileCaptureRuns(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	entered := h.locator.Block()
	defer h.locator.Release()

	first := make(chan error, 1)
	go func() {
		_, err := h.client.CaptureOnce(ctx)
		first <- err
	}()
	<-entered

	_, err := h.client.CaptureOnce(ctx)
	assert.ErrorIs(t, err, apperrors.ErrBusy)

	h.locator.Release()
	require.NoError(t, <-first)
}

func TestUpdateSettings_RestartFailureKeepsSavedSettings(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.client.StartAll(ctx)
	require.NoError(t, err)
	h.perm.Set(false)

	st, err := h.client.UpdateSettings(ctx, map[string]any{settings.KeyLocationInterval: 5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, st.Fields[settings.KeyLocationInterval].GetNumberValue())
	assert.Contains(t, st.Fields[WarningField].GetStringValue(), "monitoring stopped")
	assert.False(t, h.app.Supervisor.IsRunning())

	saved, err := h.client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, saved.Fields[settings.KeyLocationInterval].GetNumberValue())
	assert.NotContains(t, saved.Fields, WarningField)
}

func TestClearData(t *testing.T) {
	h := newHarness(t, Options{APIKey: "s3cret"})
	ctx := context.Background()
	require.NoError(t, h.app.Settings.SetContacts(ctx, []string{"+15551230001"}))
	_, err := h.client.CaptureOnce(ctx)
	require.NoError(t, err)

	anonymous := NewClient(http.DefaultClient, h.url, "")
	_, err = anonymous.ClearData(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	st, err := h.client.ClearData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Fields["state"].GetStringValue())
	assert.Zero(t, st.Fields["stats"].GetStructValue().Fields["location_logs"].GetNumberValue())
	assert.Empty(t, st.Fields["settings"].GetStructValue().Fields[settings.KeySOSContacts].GetListValue().GetValues())
}

func TestLogs(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.client.StartAll(ctx)
	require.NoError(t, err)

	all, err := h.client.Logs(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all.Values)

	last, err := h.client.Logs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last.Values, 1)
	assert.Equal(t, all.Values[len(all.Values)-1].GetStructValue().Fields["message"].GetStringValue(),
		last.Values[0].GetStructValue().Fields["message"].GetStringValue())
}

func TestAuth(t *testing.T) {
	h := newHarness(t, Options{APIKey: "s3cret"})
	ctx := context.Background()

	anonymous := NewClient(http.DefaultClient, h.url, "")
	_, err := anonymous.Status(ctx)
	assert.NoError(t, err, "status is public")

	_, err = anonymous.GetSettings(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := NewClient(http.DefaultClient, h.url, "guess")
	_, err = wrong.StartAll(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	assert.False(t, h.app.Supervisor.IsRunning())

	_, err = h.client.GetSettings(ctx)
	assert.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	_, err := h.client.Status(ctx)
	require.NoError(t, err)

	_, err = h.client.Status(ctx)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))

	h.clock.Advance(time.Second)
	_, err = h.client.Status(ctx)
	assert.NoError(t, err)
}
