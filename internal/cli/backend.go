package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lcrostarosa/safetrack/internal/app"
	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/filelock"
	"github.com/lcrostarosa/safetrack/internal/rpc"
	"github.com/lcrostarosa/safetrack/internal/server"
)

// RequestTimeout bounds a single control API call.
const RequestTimeout = 30 * time.Second

// backend connects to the daemon, or boots a private engine with --offline.
func (s *state) backend(ctx context.Context, cfg *config.Config) (*rpc.Client, func() error, error) {
	if s.offline {
		return s.localBackend(cfg)
	}
	addr := s.addr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	client := rpc.NewClient(&http.Client{Timeout: RequestTimeout}, "http://"+addr, cfg.Server.APIKey)
	return client, nil, nil
}

// localBackend locks the data directory and serves the control API on a
// loopback ephemeral port for the lifetime of one command.
func (s *state) localBackend(cfg *config.Config) (*rpc.Client, func() error, error) {
	lock, err := filelock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	log, err := s.engineLogger(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}

	a, err := app.New(cfg, app.WithLogger(log), app.WithLogBuffer(s.ring))
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}

	mux := http.NewServeMux()
	rpc.NewServer(a, rpc.Options{Logger: log.Named("rpc")}).RegisterHandlers(mux)
	gs := server.NewGracefulServer(
		&http.Server{Addr: "127.0.0.1:0", Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		&server.GracefulServerOptions{BeforeStop: a.Supervisor.StopAll, Logger: log.Named("server")},
	)
	if err := gs.Listen(); err != nil {
		_ = a.Close()
		_ = lock.Unlock()
		return nil, nil, err
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Serve(serveCtx) }()

	release := func() error {
		cancel()
		serveErr := <-done
		_ = log.Sync()
		return errors.Join(serveErr, a.Close(), lock.Unlock())
	}
	return rpc.NewClient(http.DefaultClient, "http://"+gs.Addr(), ""), release, nil
}
