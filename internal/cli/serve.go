package cli

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/app"
	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/filelock"
	"github.com/lcrostarosa/safetrack/internal/logging"
	"github.com/lcrostarosa/safetrack/internal/rpc"
	"github.com/lcrostarosa/safetrack/internal/server"
)

func newServeCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon and its control API",
		Long: `Start location capture and the inactivity monitor, and serve the
control API that the other commands use.

Jobs stop and the database is closed on SIGINT or SIGTERM.`,
		Example: `  # Start with the configured listen address
  safetrack serve

  # Serve the API only, start jobs later with 'safetrack start'
  safetrack serve --listen 127.0.0.1:9000 --no-start`,
	}
	f := cmd.Flags()
	f.String("listen", "", "Listen address (default: server.listen_addr or "+config.EnvListenAddr+")")
	f.Bool("no-start", false, "Do not start the jobs")
	cmd.RunE = b.Config().Wrap(s.runServe)
	return cmd
}

func (s *state) runServe(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	cfg := ctx.Config
	flags := runner.Flags(cmd)
	listen := flags.String("listen")
	noStart := flags.Bool("no-start")
	if err := flags.Err(); err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Server.ListenAddr
	}

	lock, err := filelock.Acquire(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	log, err := s.engineLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, app.WithLogger(log), app.WithLogBuffer(s.ring))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()

	api := rpc.NewServer(a, rpc.Options{
		APIKey:            cfg.Server.APIKey,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		Logger:            log.Named("rpc"),
	})
	gs := server.NewGracefulServer(
		&http.Server{
			Addr:              listen,
			Handler:           server.NewMux(api.RegisterHandlers, cfg.Server.Metrics),
			ReadHeaderTimeout: 10 * time.Second,
		},
		&server.GracefulServerOptions{
			BeforeStop:   a.Supervisor.StopAll,
			ShutdownHook: func() { log.Info("Control API drained") },
			Logger:       log.Named("server"),
		},
	)
	if err := gs.Listen(); err != nil {
		return err
	}

	if err := a.StartRetention(cmd.Context()); err != nil {
		return err
	}
	if !noStart {
		// A refused permission leaves the API up so the user can retry.
		if err := a.Supervisor.StartAll(cmd.Context()); err != nil {
			log.Warn("Jobs not started", zap.Error(err))
		}
	}

	logging.Info("SafeTrack daemon running",
		logging.String("api", "http://"+gs.Addr()),
		logging.String("dataDir", cfg.DataDir),
		logging.Bool("auth", cfg.Server.APIKey != ""))
	logging.Info("Press Ctrl+C to stop")

	if err := gs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
