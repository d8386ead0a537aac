package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/liveness"
	"github.com/lcrostarosa/safetrack/internal/settings"
	"github.com/lcrostarosa/safetrack/internal/storage"
	"github.com/lcrostarosa/safetrack/internal/testutil"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

var twoContacts = []string{"+15551230001", "+15551230002"}

type harness struct {
	mon       *Monitor
	clock     *clockwork.FakeClock
	db        *storage.DB
	settings  *settings.Store
	liveness  *liveness.Recorder
	messenger *testutil.FakeMessenger
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:     testutil.NewClock(),
		db:        testutil.OpenDB(t),
		messenger: testutil.NewFakeMessenger(),
	}
	h.settings = settings.New(h.db, settings.Defaults{LocationIntervalMinutes: 15, InactivityThresholdHours: 24}, nil)
	h.liveness = liveness.New(h.db, h.clock, nil)
	opts = append([]Option{
		WithClock(h.clock),
		WithDispatchDelay(0),
		WithAlertLog(h.db),
	}, opts...)
	h.mon = New(h.settings, h.liveness, h.messenger, opts...)
	t.Cleanup(h.mon.Stop)
	return h
}

// openedAgo records an app open now and moves the clock d forward.
func (h *harness) openedAgo(t *testing.T, d time.Duration) {
	t.Helper()
	h.liveness.RecordOpen(context.Background())
	h.clock.Advance(d)
}

func (h *harness) contacts(t *testing.T, contacts ...string) {
	t.Helper()
	require.NoError(t, h.settings.SetContacts(context.Background(), contacts))
}

func TestCheck_BreachAlertsEveryContact(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)

	rep, err := h.mon.Check(context.Background())
	require.NoError(t, err)

	sent := h.messenger.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, twoContacts[0], sent[0].Contact, "contacts alerted in list order")
	assert.Equal(t, twoContacts[1], sent[1].Contact)
	for _, s := range sent {
		assert.Contains(t, s.Message, " 25 hours")
	}

	assert.True(t, rep.Breached)
	assert.Equal(t, 2, rep.Sent)
	assert.Zero(t, rep.Failed)
	assert.NotEmpty(t, rep.BatchID)
	assert.Equal(t, 25*time.Hour, rep.Elapsed)
}

func TestCheck_FloorsElapsedHours(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 24*time.Hour+59*time.Minute)

	_, err := h.mon.Check(context.Background())
	require.NoError(t, err)

	sent := h.messenger.Sent()
	require.Len(t, sent, 2)
	for _, s := range sent {
		assert.Contains(t, s.Message, " 24 hours")
	}
}

func TestCheck_BelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 10*time.Hour)

	rep, err := h.mon.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Breached)
	assert.Empty(t, h.messenger.Sent())
}

func TestCheck_ExactlyAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 24*time.Hour)

	rep, err := h.mon.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Breached)
	assert.Len(t, h.messenger.Sent(), 2)
}

func TestCheck_NoOps(t *testing.T) {
	t.Run("no liveness mark", func(t *testing.T) {
		h := newHarness(t)
		h.contacts(t, twoContacts...)

		rep, err := h.mon.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, rep.HasMark)
		assert.Empty(t, h.messenger.Sent())
	})

	t.Run("no contacts", func(t *testing.T) {
		h := newHarness(t)
		h.openedAgo(t, 100*time.Hour)

		rep, err := h.mon.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, rep.Breached)
		assert.Empty(t, h.messenger.Sent())
	})
}

func TestCheck_FractionalThreshold(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts[0])
	require.NoError(t, h.settings.SetInactivityThreshold(context.Background(), 0.5))
	h.openedAgo(t, 45*time.Minute)

	rep, err := h.mon.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Breached)
	require.Len(t, h.messenger.Sent(), 1)
	assert.Contains(t, h.messenger.Sent()[0].Message, " 0 hours")
}

func TestCheck_DeliveryFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 30*time.Hour)
	h.messenger.FailFor(twoContacts[0], errors.New("unreachable"))

	rep, err := h.mon.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], apperrors.ErrDelivery)
	assert.Len(t, h.messenger.Sent(), 2, "second contact still attempted")

	alerts, err := h.db.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, rep.BatchID, a.BatchID)
		assert.Equal(t, a.Contact == twoContacts[1], a.Delivered())
	}
}

func TestCheck_StorageFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Close())

	_, err := h.mon.Check(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Empty(t, h.messenger.Sent())
}

func TestStart_ImmediateCheckAndFireEveryTick(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)

	require.NoError(t, h.mon.Start(context.Background(), time.Hour))
	assert.True(t, h.mon.Active())
	assert.Eventually(t, func() bool { return len(h.messenger.Sent()) == 2 }, waitFor, pollEvery,
		"first check runs on start")

	h.clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return len(h.messenger.Sent()) == 4 }, waitFor, pollEvery,
		"a breach that persists re-sends on every tick")
	assert.Contains(t, h.messenger.Sent()[3].Message, " 26 hours")
}

func TestStart_InvalidPeriod(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.mon.Start(context.Background(), 0), apperrors.ErrValidation)
	assert.False(t, h.mon.Active())
}

func TestStart_ReportsDeliveryErrors(t *testing.T) {
	errs := make(chan error, 4)
	h := newHarness(t, WithErrorHandler(func(err error) { errs <- err }))
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)
	h.messenger.FailFor(twoContacts[1], errors.New("unreachable"))

	require.NoError(t, h.mon.Start(context.Background(), time.Hour))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, apperrors.ErrDelivery)
		assert.True(t, strings.Contains(err.Error(), twoContacts[1]))
	case <-time.After(waitFor):
		t.Fatal("delivery failure not reported")
	}
}

func TestStart_ReturnsWhileFirstCheckDispatches(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)
	entered := h.messenger.Block()
	defer h.messenger.Release()

	started := make(chan error, 1)
	go func() { started <- h.mon.Start(context.Background(), time.Hour) }()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Start waited for the alert dispatch")
	}
	<-entered
	assert.True(t, h.mon.Active(), "active while the first dispatch is in flight")

	h.messenger.Release()
	assert.Eventually(t, func() bool { return len(h.messenger.Sent()) == 2 }, waitFor, pollEvery)
}

func TestCheck_BusyWhileScheduledCheckRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)
	entered := h.messenger.Block()
	defer h.messenger.Release()

	require.NoError(t, h.mon.Start(ctx, time.Hour))
	<-entered

	_, err := h.mon.Check(ctx)
	assert.ErrorIs(t, err, apperrors.ErrBusy)

	h.messenger.Release()
	assert.Eventually(t, func() bool { return len(h.messenger.Sent()) == 2 }, waitFor, pollEvery)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.messenger.Sent(), 2, "each contact alerted once")

	// The guard is released once the scheduled check finishes.
	assert.Eventually(t, func() bool {
		_, err := h.mon.Check(ctx)
		return err == nil
	}, waitFor, pollEvery)
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)

	h.mon.Stop()
	require.NoError(t, h.mon.Start(context.Background(), time.Hour))
	require.Eventually(t, func() bool { return len(h.messenger.Sent()) == 2 }, waitFor, pollEvery)
	h.mon.Stop()
	h.mon.Stop()
	assert.False(t, h.mon.Active())

	h.clock.Advance(3 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.messenger.Sent(), 2, "no check after stop")
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCooldown(6*time.Hour))
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)

	_, err := h.mon.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, h.messenger.Sent(), 2)
	assert.Equal(t, Fired, h.mon.State().Phase)

	h.clock.Advance(time.Hour)
	rep, err := h.mon.Check(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Breached)
	assert.True(t, rep.Suppressed)
	assert.Len(t, h.messenger.Sent(), 2, "suppressed within cooldown")

	h.clock.Advance(5 * time.Hour)
	_, err = h.mon.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, h.messenger.Sent(), 4, "re-sent once cooldown elapsed")
}

func TestCooldown_RearmsOnNewMark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCooldown(48*time.Hour))
	h.contacts(t, twoContacts...)
	h.openedAgo(t, 25*time.Hour)

	_, err := h.mon.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, Fired, h.mon.State().Phase)

	h.liveness.RecordOpen(ctx)
	_, err = h.mon.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Armed, h.mon.State().Phase)

	// A fresh breach alerts immediately despite the long cooldown.
	h.clock.Advance(24 * time.Hour)
	rep, err := h.mon.Check(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Suppressed)
	assert.Len(t, h.messenger.Sent(), 4)
}

func TestCooldown_AllFailedStaysArmed(t *testing.T) {
	h := newHarness(t, WithCooldown(6*time.Hour))
	h.contacts(t, twoContacts[0])
	h.openedAgo(t, 25*time.Hour)
	h.messenger.FailFor(twoContacts[0], errors.New("unreachable"))

	_, err := h.mon.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Armed, h.mon.State().Phase)
}

type countingMessenger struct {
	times []time.Time
}

func (c *countingMessenger) Send(context.Context, string, string) error {
	c.times = append(c.times, time.Now())
	return nil
}

func TestDispatchDelay(t *testing.T) {
	h := newHarness(t)
	h.contacts(t, "+15551230001", "+15551230002", "+15551230003")
	h.openedAgo(t, 25*time.Hour)

	delay := 30 * time.Millisecond
	msgr := &countingMessenger{}
	mon := New(h.settings, h.liveness, msgr, WithClock(h.clock), WithDispatchDelay(delay))

	_, err := mon.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, msgr.times, 3)
	for i := 1; i < len(msgr.times); i++ {
		// Allow a little slack for timer granularity.
		assert.GreaterOrEqual(t, msgr.times[i].Sub(msgr.times[i-1]), delay-5*time.Millisecond)
	}
}

func TestLastReport(t *testing.T) {
	h := newHarness(t)
	_, ok := h.mon.LastReport()
	assert.False(t, ok)

	h.contacts(t, twoContacts...)
	h.openedAgo(t, 2*time.Hour)
	_, err := h.mon.Check(context.Background())
	require.NoError(t, err)

	rep, ok := h.mon.LastReport()
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, rep.Elapsed)
	assert.Equal(t, 24*time.Hour, rep.Threshold)
	assert.Equal(t, 2, rep.Contacts)
}

func TestMessage(t *testing.T) {
	assert.Equal(t,
		"SOS Alert: I haven't opened the Safety Tracker app for 25 hours. Please check on me! Location tracking is active.",
		Message(25.99))
}

var _ domain.Messenger = (*countingMessenger)(nil)
