// Package monitor runs the inactivity check that alerts emergency contacts
// when the app has not been opened for longer than the configured threshold.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/metrics"
	"github.com/lcrostarosa/safetrack/internal/scheduler"
)

// JobName labels the monitor in logs and metrics.
const JobName = "monitor"

// Defaults
const (
	DefaultPeriod        = time.Hour
	DefaultDispatchDelay = time.Second
)

// SettingsReader supplies the threshold and contacts.
type SettingsReader interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// LivenessReader supplies the last app-open instant.
type LivenessReader interface {
	LastOpen(ctx context.Context) (time.Time, bool, error)
}

// AlertLog records dispatch outcomes.
type AlertLog interface {
	InsertAlert(ctx context.Context, a domain.AlertRecord) (int64, error)
}

// Phase is the alerting phase tracked when a cooldown is configured.
type Phase int

const (
	// Armed means the next breach alerts.
	Armed Phase = iota
	// Fired means an alert went out and re-sends wait for the cooldown.
	Fired
)

func (p Phase) String() string {
	if p == Fired {
		return "fired"
	}
	return "armed"
}

// AlertState is Armed, or Fired at FiredAt for the breach that began with
// the liveness mark LastOpen.
type AlertState struct {
	Phase    Phase
	FiredAt  time.Time
	LastOpen time.Time
}

// Report describes one check.
type Report struct {
	CheckedAt  time.Time
	HasMark    bool
	LastOpen   time.Time
	Elapsed    time.Duration
	Threshold  time.Duration
	Contacts   int
	Breached   bool
	Suppressed bool
	BatchID    string
	Message    string
	Sent       int
	Failed     int
	Errors     []error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithDispatchDelay sets the spacing between successive dispatches. Zero
// disables spacing.
func WithDispatchDelay(d time.Duration) Option {
	return func(m *Monitor) { m.dispatchDelay = d }
}

// WithCooldown suppresses re-sends for d after an alert fires. Zero alerts
// on every breached check.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithAlertLog records every dispatch outcome.
func WithAlertLog(a AlertLog) Option {
	return func(m *Monitor) { m.alerts = a }
}

// WithCallbacks adds scheduler lifecycle hooks.
func WithCallbacks(c *scheduler.Callbacks) Option {
	return func(m *Monitor) { m.callbacks = c }
}

// WithErrorHandler receives every failure of a scheduled or start-up check,
// including per-contact delivery failures.
func WithErrorHandler(fn func(error)) Option {
	return func(m *Monitor) { m.onError = fn }
}

// Monitor periodically compares the time since the last app open against
// the inactivity threshold and alerts every contact on a breach.
type Monitor struct {
	settings  SettingsReader
	liveness  LivenessReader
	messenger domain.Messenger
	alerts    AlertLog

	clock         clockwork.Clock
	log           *zap.Logger
	dispatchDelay time.Duration
	cooldown      time.Duration
	callbacks     *scheduler.Callbacks
	onError       func(error)

	checking atomic.Bool

	mu     sync.Mutex
	ticket *scheduler.Ticket

	stateMu    sync.Mutex
	state      AlertState
	lastReport *Report
}

// New creates a monitor.
func New(settings SettingsReader, liveness LivenessReader, messenger domain.Messenger, opts ...Option) *Monitor {
	m := &Monitor{
		settings:      settings,
		liveness:      liveness,
		messenger:     messenger,
		clock:         clockwork.NewRealClock(),
		log:           zap.NewNop(),
		dispatchDelay: DefaultDispatchDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start arms the monitor to check every period. An active monitor is stopped
// first. The first check runs right away on the timer's goroutine, so Start
// returns without waiting for it; its failure is reported, not returned.
func (m *Monitor) Start(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return apperrors.Invalid("monitor.check_interval", period, "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	ticket, err := scheduler.Every(ctx, m.clock, period, m.scheduledTick,
		scheduler.WithName(JobName),
		scheduler.WithImmediate(),
		scheduler.WithCallbacks(scheduler.ChainCallbacks(metrics.TickCallbacks(JobName), m.callbacks)))
	if err != nil {
		return err
	}
	m.ticket = ticket
	metrics.SetActive(JobName, true)

	m.log.Info("Inactivity monitor started", zap.Duration("period", period))
	return nil
}

// Stop cancels the timer without waiting for an in-flight check. Safe to
// call when stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.ticket == nil {
		return
	}
	m.ticket.Cancel()
	m.ticket = nil
	metrics.SetActive(JobName, false)
	m.log.Info("Inactivity monitor stopped")
}

// Active reports whether the timer is armed.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticket.Active()
}

// State returns the current alert state.
func (m *Monitor) State() AlertState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// LastReport returns the most recent check, if any.
func (m *Monitor) LastReport() (Report, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.lastReport == nil {
		return Report{}, false
	}
	return *m.lastReport, true
}

// Reset returns the monitor to Armed and forgets the last report.
func (m *Monitor) Reset() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = AlertState{Phase: Armed}
	m.lastReport = nil
}

func (m *Monitor) scheduledTick(ctx context.Context) error {
	err := m.tick(ctx)
	if err != nil && !errors.Is(err, scheduler.ErrSkipped) {
		m.report(err)
	}
	return err
}

func (m *Monitor) tick(ctx context.Context) error {
	if !m.checking.CompareAndSwap(false, true) {
		return scheduler.ErrSkipped
	}
	defer m.checking.Store(false)

	rep, err := m.check(ctx)
	if err != nil {
		return err
	}
	for _, derr := range rep.Errors {
		m.report(derr)
	}
	return nil
}

// Check runs one inactivity check on demand. It fails with ErrBusy while a
// scheduled check is in flight. A missing liveness mark or an empty contact
// list makes it a no-op. On a breach the alert goes to every contact in
// order; a failed delivery is recorded in the report and never stops the
// remaining contacts. Only a failure to read settings or the liveness mark
// is returned as an error.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	if !m.checking.CompareAndSwap(false, true) {
		return Report{}, fmt.Errorf("inactivity check: %w", apperrors.ErrBusy)
	}
	defer m.checking.Store(false)
	return m.check(ctx)
}

func (m *Monitor) check(ctx context.Context) (Report, error) {
	rep := Report{CheckedAt: m.clock.Now()}

	s, err := m.settings.Get(ctx)
	if err != nil {
		return rep, err
	}
	rep.Threshold = s.InactivityThreshold()
	rep.Contacts = len(s.SOSContacts)

	lastOpen, ok, err := m.liveness.LastOpen(ctx)
	if err != nil {
		return rep, err
	}
	rep.HasMark = ok
	if !ok || len(s.SOSContacts) == 0 {
		m.store(rep)
		return rep, nil
	}

	rep.LastOpen = lastOpen
	rep.Elapsed = rep.CheckedAt.Sub(lastOpen)
	hours := rep.Elapsed.Hours()
	metrics.InactivityHours.Set(hours)

	m.rearmIfReopened(lastOpen)

	if hours < s.InactivityThresholdHours {
		m.store(rep)
		return rep, nil
	}

	rep.Breached = true
	metrics.BreachesTotal.Inc()

	if m.suppressed(rep.CheckedAt) {
		rep.Suppressed = true
		metrics.AlertsTotal.WithLabelValues("suppressed").Add(float64(len(s.SOSContacts)))
		m.log.Info("Inactivity threshold crossed, alert suppressed by cooldown",
			zap.Float64("hours", hours), zap.Duration("cooldown", m.cooldown))
		m.store(rep)
		return rep, nil
	}

	rep.BatchID = uuid.NewString()
	rep.Message = Message(hours)
	m.log.Warn("Inactivity threshold crossed, alerting contacts",
		zap.String("batch", rep.BatchID),
		zap.Float64("hours", hours),
		zap.Float64("threshold_hours", s.InactivityThresholdHours),
		zap.Int("contacts", len(s.SOSContacts)))

	m.dispatch(ctx, &rep, s.SOSContacts)

	if rep.Sent > 0 {
		m.stateMu.Lock()
		m.state = AlertState{Phase: Fired, FiredAt: rep.CheckedAt, LastOpen: lastOpen}
		m.stateMu.Unlock()
	}
	m.store(rep)
	return rep, nil
}

func (m *Monitor) dispatch(ctx context.Context, rep *Report, contacts []string) {
	limit := rate.Inf
	if m.dispatchDelay > 0 {
		limit = rate.Every(m.dispatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, contact := range contacts {
		if err := limiter.Wait(ctx); err != nil {
			// Only a cancelled context gets here; the rest of the batch is
			// abandoned and counted as failed.
			err = apperrors.Delivery(contact, err)
			rep.Failed++
			rep.Errors = append(rep.Errors, err)
			metrics.AlertsTotal.WithLabelValues("failed").Inc()
			m.record(ctx, rep, contact, err)
			continue
		}

		err := m.messenger.Send(ctx, contact, rep.Message)
		if err != nil {
			if !errors.Is(err, apperrors.ErrDelivery) {
				err = apperrors.Delivery(contact, err)
			}
			rep.Failed++
			rep.Errors = append(rep.Errors, err)
			metrics.AlertsTotal.WithLabelValues("failed").Inc()
			m.log.Error("Failed to send alert", zap.String("batch", rep.BatchID), zap.Error(err))
		} else {
			rep.Sent++
			metrics.AlertsTotal.WithLabelValues("sent").Inc()
		}
		m.record(ctx, rep, contact, err)
	}
}

func (m *Monitor) record(ctx context.Context, rep *Report, contact string, sendErr error) {
	if m.alerts == nil {
		return
	}
	a := domain.AlertRecord{
		BatchID: rep.BatchID,
		Contact: contact,
		Message: rep.Message,
		SentAt:  m.clock.Now(),
	}
	if sendErr != nil {
		a.Error = sendErr.Error()
	}
	if _, err := m.alerts.InsertAlert(ctx, a); err != nil {
		m.log.Warn("Failed to record alert", zap.String("batch", rep.BatchID), zap.Error(err))
	}
}

// rearmIfReopened returns to Armed once a liveness mark newer than the one
// that caused the last alert appears.
func (m *Monitor) rearmIfReopened(lastOpen time.Time) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state.Phase == Fired && lastOpen.After(m.state.LastOpen) {
		m.state = AlertState{Phase: Armed}
	}
}

func (m *Monitor) suppressed(now time.Time) bool {
	if m.cooldown <= 0 {
		return false
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state.Phase == Fired && now.Sub(m.state.FiredAt) < m.cooldown
}

func (m *Monitor) store(rep Report) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.lastReport = &rep
}

func (m *Monitor) report(err error) {
	// Delivery failures are logged per contact in dispatch.
	if !errors.Is(err, apperrors.ErrDelivery) {
		m.log.Warn("Inactivity check failed", zap.String("kind", apperrors.Kind(err)), zap.Error(err))
	}
	if m.onError != nil {
		m.onError(err)
	}
}

// Message builds the alert text for hours of inactivity.
func Message(hours float64) string {
	return fmt.Sprintf("SOS Alert: I haven't opened the Safety Tracker app for %d hours. Please check on me! Location tracking is active.",
		int64(math.Floor(hours)))
}
