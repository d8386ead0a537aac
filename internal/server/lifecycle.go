// Package server runs the daemon's HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ShutdownTimeout is the default timeout for graceful shutdown
const ShutdownTimeout = 5 * time.Second

// HealthPath answers liveness checks.
const HealthPath = "/healthz"

// MetricsPath serves Prometheus metrics.
const MetricsPath = "/metrics"

// GracefulServer wraps an http.Server with graceful shutdown capabilities
type GracefulServer struct {
	server       *http.Server
	beforeStop   func()
	shutdownHook func()
	timeout      time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
	stopErr  error
}

// GracefulServerOptions configures a GracefulServer
type GracefulServerOptions struct {
	// BeforeStop runs before the listener stops accepting, e.g. to stop jobs.
	BeforeStop func()
	// ShutdownHook runs after in-flight requests have drained.
	ShutdownHook func()
	// Timeout bounds the drain. Zero means ShutdownTimeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewGracefulServer creates a server wrapper with graceful shutdown
func NewGracefulServer(server *http.Server, opts *GracefulServerOptions) *GracefulServer {
	gs := &GracefulServer{server: server, timeout: ShutdownTimeout, log: zap.NewNop()}
	if opts != nil {
		gs.beforeStop = opts.BeforeStop
		gs.shutdownHook = opts.ShutdownHook
		if opts.Timeout > 0 {
			gs.timeout = opts.Timeout
		}
		if opts.Logger != nil {
			gs.log = opts.Logger
		}
	}
	return gs
}

// NewMux builds the daemon's routes: register mounts the control API, and
// /metrics is added when metrics is true.
func NewMux(register func(*http.ServeMux), metrics bool) *http.ServeMux {
	mux := http.NewServeMux()
	register(mux)
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if metrics {
		mux.Handle(MetricsPath, promhttp.Handler())
	}
	return mux
}

// Listen binds the configured address. Serve calls it if needed; calling it
// first lets the caller learn an ephemeral port from Addr.
func (gs *GracefulServer) Listen() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (gs *GracefulServer) Addr() string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.listener != nil {
		return gs.listener.Addr().String()
	}
	return gs.server.Addr
}

// Serve accepts connections until ctx is cancelled or the listener fails,
// then shuts down gracefully.
func (gs *GracefulServer) Serve(ctx context.Context) error {
	if err := gs.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := gs.server.Serve(gs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	gs.log.Info("Listening", zap.String("addr", gs.Addr()))

	select {
	case err, ok := <-errCh:
		if ok {
			gs.log.Error("Server error", zap.Error(err))
			if gs.beforeStop != nil {
				gs.beforeStop()
			}
			return err
		}
		return nil
	case <-ctx.Done():
		return gs.Shutdown()
	}
}

// ListenAndServe starts the server and handles graceful shutdown on SIGINT/SIGTERM.
// This is a blocking call that returns when the server has been shut down.
func (gs *GracefulServer) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gs.Serve(ctx)
}

// Shutdown runs BeforeStop, drains in-flight requests, then runs the
// shutdown hook. Later calls return the first result.
func (gs *GracefulServer) Shutdown() error {
	gs.stopOnce.Do(func() {
		gs.log.Info("Shutting down...")

		if gs.beforeStop != nil {
			gs.beforeStop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.stopErr = err
			return
		}

		if gs.shutdownHook != nil {
			gs.shutdownHook()
		}

		gs.log.Info("Server stopped")
	})
	return gs.stopErr
}
