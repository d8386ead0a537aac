// Package app assembles the safetrack engine from configuration: storage,
// the settings, location and liveness stores, the platform adapters, the two
// jobs, the supervisor and location retention.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/capture"
	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/domain"
	"github.com/lcrostarosa/safetrack/internal/liveness"
	"github.com/lcrostarosa/safetrack/internal/locationlog"
	"github.com/lcrostarosa/safetrack/internal/logging"
	"github.com/lcrostarosa/safetrack/internal/metrics"
	"github.com/lcrostarosa/safetrack/internal/monitor"
	"github.com/lcrostarosa/safetrack/internal/platform"
	"github.com/lcrostarosa/safetrack/internal/scheduler"
	"github.com/lcrostarosa/safetrack/internal/settings"
	"github.com/lcrostarosa/safetrack/internal/storage"
	"github.com/lcrostarosa/safetrack/internal/supervisor"
)

// RetentionJobName labels the pruning job in logs and metrics.
const RetentionJobName = "retention"

type options struct {
	clock    clockwork.Clock
	log      *zap.Logger
	logs     *logging.RingBuffer
	dbPath   string
	platform *platform.Collaborators
}

// Option configures New.
type Option func(*options)

// WithClock sets the time source shared by every component.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the root logger. Components get named children.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLogBuffer attaches the in-memory log buffer served to clients.
func WithLogBuffer(b *logging.RingBuffer) Option {
	return func(o *options) { o.logs = b }
}

// WithDatabasePath overrides the configured database file.
func WithDatabasePath(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// WithPlatform replaces the adapters chosen from configuration.
func WithPlatform(p *platform.Collaborators) Option {
	return func(o *options) { o.platform = p }
}

// App is a fully wired engine.
type App struct {
	Config *config.Config
	Clock  clockwork.Clock
	Log    *zap.Logger
	Logs   *logging.RingBuffer

	DB         *storage.DB
	Settings   *settings.Store
	Locations  *locationlog.Store
	Liveness   *liveness.Recorder
	Platform   *platform.Collaborators
	Capture    *capture.Job
	Monitor    *monitor.Monitor
	Supervisor *supervisor.Supervisor

	mu        sync.Mutex
	retention *scheduler.Ticket
}

// New opens the database and builds every component. Nothing is started.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dbPath == "" {
		o.dbPath = cfg.DatabasePath()
	}
	if o.logs == nil {
		o.logs = logging.NewRingBuffer(logging.DefaultBufferSize)
	}

	p := o.platform
	if p == nil {
		var err error
		if p, err = platform.FromConfig(cfg, o.log); err != nil {
			return nil, err
		}
	}

	db, err := storage.Open(o.dbPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Clock:    o.clock,
		Log:      o.log,
		Logs:     o.logs,
		DB:       db,
		Platform: p,
	}

	a.Settings = settings.New(db, settings.Defaults{
		LocationIntervalMinutes:  cfg.Defaults.LocationIntervalMinutes,
		InactivityThresholdHours: cfg.Defaults.InactivityThresholdHours,
	}, o.log.Named("settings"))
	a.Locations = locationlog.New(db, o.clock)
	a.Liveness = liveness.New(db, o.clock, o.log.Named("liveness"))

	a.Capture = capture.New(p.Permission, p.Locator, a.Locations,
		capture.WithClock(o.clock),
		capture.WithLogger(o.log.Named(capture.JobName)),
		capture.WithCallbacks(scheduler.LoggingCallbacks(o.log.Named(capture.JobName))))

	a.Monitor = monitor.New(a.Settings, a.Liveness, p.Messenger,
		monitor.WithClock(o.clock),
		monitor.WithLogger(o.log.Named(monitor.JobName)),
		monitor.WithDispatchDelay(cfg.Monitor.DispatchDelay),
		monitor.WithCooldown(cfg.Monitor.AlertCooldown),
		monitor.WithAlertLog(db),
		monitor.WithCallbacks(scheduler.LoggingCallbacks(o.log.Named(monitor.JobName))))

	a.Supervisor = supervisor.New(a.Settings, a.Capture, a.Monitor,
		cfg.Monitor.CheckInterval, o.log.Named("supervisor"), supervisor.WithClock(o.clock))

	return a, nil
}

// StartRetention arms periodic pruning of location records older than the
// configured retention. It does nothing when retention is disabled.
func (a *App) StartRetention(ctx context.Context) error {
	days := a.Config.Storage.RetentionDays
	if days <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.retention.Cancel()

	log := a.Log.Named(RetentionJobName)
	ticket, err := scheduler.Every(ctx, a.Clock, a.Config.Storage.PruneInterval,
		func(ctx context.Context) error {
			_, err := a.Prune(ctx, days)
			return err
		},
		scheduler.WithName(RetentionJobName),
		scheduler.WithCallbacks(scheduler.ChainCallbacks(
			metrics.TickCallbacks(RetentionJobName),
			scheduler.LoggingCallbacks(log))))
	if err != nil {
		return err
	}
	a.retention = ticket
	log.Info("Location retention enabled",
		zap.Int("days", days),
		zap.String("interval", scheduler.FormatDuration(a.Config.Storage.PruneInterval)))
	return nil
}

// Prune deletes location records older than days.
func (a *App) Prune(ctx context.Context, days int) (int64, error) {
	n, err := a.Locations.PruneOlderThan(ctx, days)
	if err != nil {
		return 0, err
	}
	metrics.LocationsPruned.Add(float64(n))
	if n > 0 {
		a.Log.Info("Pruned location records", zap.Int64("deleted", n), zap.Int("days", days))
	}
	return n, nil
}

// ClearData stops monitoring and deletes every stored setting, location,
// alert and the liveness mark. Settings read back as defaults afterwards.
func (a *App) ClearData(ctx context.Context) error {
	a.Supervisor.StopAll()
	if err := a.DB.ClearAll(ctx); err != nil {
		return err
	}
	a.Monitor.Reset()
	a.Log.Warn("All stored data cleared")
	return nil
}

// Status is a point-in-time view of the engine.
type Status struct {
	State           supervisor.RunState
	StartedAt       time.Time
	CaptureActive   bool
	CaptureInterval time.Duration
	MonitorActive   bool
	AlertPhase      monitor.Phase
	LastOpen        time.Time
	HasLastOpen     bool
	LastAlert       time.Time
	HasLastAlert    bool
	Settings        domain.Settings
	Stats           storage.Stats
	LastCheck       *monitor.Report
}

// Status gathers the current engine state.
func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:           a.Supervisor.State(),
		StartedAt:       a.Supervisor.StartedAt(),
		CaptureActive:   a.Capture.Active(),
		CaptureInterval: a.Capture.Interval(),
		MonitorActive:   a.Monitor.Active(),
		AlertPhase:      a.Monitor.State().Phase,
	}

	var err error
	if st.Settings, err = a.Settings.Get(ctx); err != nil {
		return Status{}, err
	}
	if st.LastOpen, st.HasLastOpen, err = a.Liveness.LastOpen(ctx); err != nil {
		return Status{}, err
	}
	if st.LastAlert, st.HasLastAlert, err = a.DB.LastAlert(ctx); err != nil {
		return Status{}, err
	}
	if st.Stats, err = a.DB.Stats(ctx); err != nil {
		return Status{}, err
	}
	if rep, ok := a.Monitor.LastReport(); ok {
		st.LastCheck = &rep
	}
	return st, nil
}

// Close stops retention and monitoring and closes the database.
func (a *App) Close() error {
	a.mu.Lock()
	a.retention.Cancel()
	a.retention = nil
	a.mu.Unlock()

	a.Supervisor.StopAll()
	return a.DB.Close()
}
