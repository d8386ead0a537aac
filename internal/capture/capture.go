// Package capture runs the periodic location capture job.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/locationlog"
	"github.com/lcrostarosa/safetrack/internal/metrics"
	"github.com/lcrostarosa/safetrack/internal/scheduler"
)

// JobName labels the capture job in logs and metrics.
const JobName = "capture"

// Appender persists a fix.
type Appender interface {
	Append(ctx context.Context, lat, lon float64) (domain.LocationRecord, error)
}

// Option configures a Job.
type Option func(*Job)

// WithClock sets the time source driving the timer.
func WithClock(c clockwork.Clock) Option {
	return func(j *Job) { j.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) { j.log = l }
}

// WithErrorHandler receives every failure of a scheduled or start-up capture.
func WithErrorHandler(fn func(error)) Option {
	return func(j *Job) { j.onError = fn }
}

// WithCallbacks adds scheduler lifecycle hooks.
func WithCallbacks(c *scheduler.Callbacks) Option {
	return func(j *Job) { j.callbacks = c }
}

// Job captures a fix on a fixed period and appends it to the location log.
// Ticks never overlap: one that fires while a capture is in flight is dropped.
type Job struct {
	perm      domain.PermissionOracle
	locator   domain.LocationProvider
	store     Appender
	clock     clockwork.Clock
	log       *zap.Logger
	onError   func(error)
	callbacks *scheduler.Callbacks

	capturing atomic.Bool
	starting  sync.Mutex

	mu     sync.Mutex
	ticket *scheduler.Ticket
	gen    uint64
}

// New creates a capture job.
func New(perm domain.PermissionOracle, locator domain.LocationProvider, store Appender, opts ...Option) *Job {
	j := &Job{
		perm:    perm,
		locator: locator,
		store:   store,
		clock:   clockwork.NewRealClock(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start arms the job to capture every intervalMinutes. An active job is
// stopped first. Permission is requested if not yet granted; if it is still
// denied Start fails with ErrPermissionDenied and nothing is armed.
// Otherwise one capture runs immediately, its failure reported rather than
// returned, before the timer is armed. That capture is not cut short when
// ctx is cancelled.
func (j *Job) Start(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes < 1 {
		return apperrors.Invalid("location_interval_minutes", intervalMinutes, "must be at least 1 minute")
	}

	j.starting.Lock()
	defer j.starting.Unlock()

	j.Stop()
	j.mu.Lock()
	gen := j.gen
	j.mu.Unlock()

	if err := j.ensurePermission(ctx); err != nil {
		return err
	}

	if err := j.tick(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, scheduler.ErrSkipped) {
		j.report(err)
	}

	interval := time.Duration(intervalMinutes) * time.Minute

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.gen != gen {
		// Stopped while the first capture was running.
		return nil
	}
	ticket, err := scheduler.Every(ctx, j.clock, interval, j.scheduledTick,
		scheduler.WithName(JobName),
		scheduler.WithCallbacks(scheduler.ChainCallbacks(metrics.TickCallbacks(JobName), j.callbacks)))
	if err != nil {
		return err
	}
	j.ticket = ticket
	metrics.SetActive(JobName, true)

	j.log.Info("Location capture started", zap.Duration("interval", interval))
	return nil
}

// Stop cancels the timer. It returns immediately; a capture already in
// flight finishes but no new one starts. Safe to call when stopped.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.gen++
	if j.ticket == nil {
		return
	}
	j.ticket.Cancel()
	j.ticket = nil
	metrics.SetActive(JobName, false)
	j.log.Info("Location capture stopped")
}

// Active reports whether the timer is armed.
func (j *Job) Active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ticket.Active()
}

// Interval returns the armed period, or zero when stopped.
func (j *Job) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ticket == nil {
		return 0
	}
	return j.ticket.Interval()
}

// CaptureOnce runs the capture pipeline on demand. Unlike a scheduled tick
// its failure is returned to the caller. It fails with ErrBusy while another
// capture is in flight.
func (j *Job) CaptureOnce(ctx context.Context) (domain.LocationRecord, error) {
	if !j.capturing.CompareAndSwap(false, true) {
		return domain.LocationRecord{}, fmt.Errorf("location capture: %w", apperrors.ErrBusy)
	}
	defer j.capturing.Store(false)

	rec, err := j.capture(ctx)
	if err != nil {
		metrics.CaptureErrors.WithLabelValues(apperrors.Kind(err)).Inc()
	}
	return rec, err
}

func (j *Job) scheduledTick(ctx context.Context) error {
	err := j.tick(ctx)
	if err != nil && !errors.Is(err, scheduler.ErrSkipped) {
		j.report(err)
	}
	return err
}

// tick is the guarded body shared by the timer and Start. It shares the
// guard with CaptureOnce.
func (j *Job) tick(ctx context.Context) error {
	if !j.capturing.CompareAndSwap(false, true) {
		return scheduler.ErrSkipped
	}
	defer j.capturing.Store(false)

	_, err := j.capture(ctx)
	return err
}

func (j *Job) capture(ctx context.Context) (domain.LocationRecord, error) {
	granted, err := j.perm.HasForegroundPermission(ctx)
	if err != nil {
		return domain.LocationRecord{}, fmt.Errorf("%w: %w", apperrors.ErrPermissionDenied, err)
	}
	if !granted {
		return domain.LocationRecord{}, apperrors.ErrPermissionDenied
	}

	fix, err := j.locator.CurrentFix(ctx)
	if err != nil {
		return domain.LocationRecord{}, apperrors.Unavailable(err)
	}
	if locationlog.ValidateCoordinates(fix.Latitude, fix.Longitude) != nil {
		return domain.LocationRecord{}, fmt.Errorf("%w: provider returned %v,%v",
			apperrors.ErrLocationUnavailable, fix.Latitude, fix.Longitude)
	}

	rec, err := j.store.Append(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		return domain.LocationRecord{}, err
	}

	metrics.LocationsCaptured.Inc()
	j.log.Debug("Location captured",
		zap.Int64("id", rec.ID),
		zap.Float64("latitude", rec.Latitude),
		zap.Float64("longitude", rec.Longitude))
	return rec, nil
}

func (j *Job) ensurePermission(ctx context.Context) error {
	granted, err := j.perm.HasForegroundPermission(ctx)
	if err == nil && granted {
		return nil
	}
	granted, err = j.perm.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPermissionDenied, err)
	}
	if !granted {
		return apperrors.ErrPermissionDenied
	}
	return nil
}

func (j *Job) report(err error) {
	metrics.CaptureErrors.WithLabelValues(apperrors.Kind(err)).Inc()
	j.log.Warn("Location capture failed", zap.String("kind", apperrors.Kind(err)), zap.Error(err))
	if j.onError != nil {
		j.onError(err)
	}
}
