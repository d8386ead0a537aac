package runner

import (
	"errors"
	"net"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safetrack/internal/logging"
)

// Interceptor is a function that wraps command execution.
// It mirrors the Connect-RPC interceptor pattern for CLI commands.
type Interceptor func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error

// RequireConfig ensures the configuration is loaded before executing the command.
func RequireConfig() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		return next()
	}
}

// WithClient releases the control API connection once the command finishes
// and turns dial failures into ErrDaemonUnreachable.
func WithClient() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		err := next()
		if closeErr := ctx.Close(); closeErr != nil {
			logging.Warn("Failed to release control API connection", logging.Err(closeErr))
		}

		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return ErrDaemonUnreachable
		}
		return err
	}
}

// WithLogging logs command execution, mirroring the RPC loggingInterceptor.
func WithLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		logging.Debug("CLI command", logging.String("cmd", cmd.Name()))
		err := next()
		if err != nil {
			logging.Debug("CLI error", logging.String("cmd", cmd.Name()), logging.Err(err))
		}
		return err
	}
}
