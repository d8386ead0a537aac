// Package supervisor starts and stops the capture and monitor jobs together
// and is the single source of truth for whether monitoring is active.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/domain"
	"github.com/lcrostarosa/safetrack/internal/metrics"
)

// RunState is whether monitoring is active.
type RunState int

const (
	Stopped RunState = iota
	Running
)

func (s RunState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// SettingsReader supplies the capture interval.
type SettingsReader interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// CaptureJob is the periodic location capture.
type CaptureJob interface {
	Start(ctx context.Context, intervalMinutes int) error
	Stop()
}

// MonitorJob is the periodic inactivity check.
type MonitorJob interface {
	Start(ctx context.Context, period time.Duration) error
	Stop()
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the time source for start times and uptime.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// Supervisor owns the run state of both jobs.
type Supervisor struct {
	settings      SettingsReader
	capture       CaptureJob
	monitor       MonitorJob
	monitorPeriod time.Duration
	log           *zap.Logger
	clock         clockwork.Clock

	// ops serializes StartAll, StopAll and Restart. mu guards the fields
	// below it and is never held while a job starts or stops.
	ops sync.Mutex

	mu        sync.Mutex
	state     RunState
	startedAt time.Time
}

// New creates a supervisor. monitorPeriod is the inactivity check period.
func New(settings SettingsReader, capture CaptureJob, monitor MonitorJob, monitorPeriod time.Duration, log *zap.Logger, opts ...Option) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Supervisor{
		settings:      settings,
		capture:       capture,
		monitor:       monitor,
		monitorPeriod: monitorPeriod,
		log:           log,
		clock:         clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAll starts both jobs. It is a no-op when already running. If either
// job fails to start, neither is left running and the error is returned.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	if s.State() == Running {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	if err := s.capture.Start(ctx, cfg.LocationIntervalMinutes); err != nil {
		s.capture.Stop()
		return fmt.Errorf("start location capture: %w", err)
	}
	if err := s.monitor.Start(ctx, s.monitorPeriod); err != nil {
		s.capture.Stop()
		s.monitor.Stop()
		return fmt.Errorf("start inactivity monitor: %w", err)
	}

	s.mu.Lock()
	s.state = Running
	s.startedAt = s.clock.Now()
	s.mu.Unlock()
	metrics.SetRunning(true)
	s.log.Info("Monitoring started",
		zap.Int("location_interval_minutes", cfg.LocationIntervalMinutes),
		zap.Duration("monitor_period", s.monitorPeriod))
	return nil
}

// StopAll stops both jobs regardless of their state. It always succeeds and
// is safe to call repeatedly.
func (s *Supervisor) StopAll() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	s.capture.Stop()
	s.monitor.Stop()

	s.mu.Lock()
	wasRunning, startedAt := s.state == Running, s.startedAt
	s.state = Stopped
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if wasRunning {
		s.log.Info("Monitoring stopped", zap.Duration("uptime", s.clock.Since(startedAt)))
	}
	metrics.SetRunning(false)
}

// Restart stops and starts both jobs so changed settings take effect.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stopLocked()
	return s.startLocked(ctx)
}

// IsRunning reports whether monitoring is active. It never waits for a
// start or stop in progress.
func (s *Supervisor) IsRunning() bool {
	return s.State() == Running
}

// State returns the run state.
func (s *Supervisor) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when monitoring last started, or zero when stopped.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}
