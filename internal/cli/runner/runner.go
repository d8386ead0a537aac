package runner

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safetrack/internal/config"
)

// ConfigProvider is a function that returns the current config and any load error.
// This allows the runner to be decoupled from the global config state.
type ConfigProvider func() (*config.Config, error)

// CommandRunner chains interceptors for CLI command execution.
// It mirrors Connect-RPC's interceptor pattern.
type CommandRunner struct {
	interceptors   []Interceptor
	configProvider ConfigProvider
	backend        Backend
}

// NewRunner creates a new CommandRunner with the given config provider.
func NewRunner(provider ConfigProvider) *CommandRunner {
	return &CommandRunner{
		configProvider: provider,
	}
}

// WithBackend sets how commands reach the control API. Returns self for chaining.
func (r *CommandRunner) WithBackend(backend Backend) *CommandRunner {
	r.backend = backend
	return r
}

// Use adds interceptors to the chain. Returns self for chaining.
func (r *CommandRunner) Use(interceptors ...Interceptor) *CommandRunner {
	r.interceptors = append(r.interceptors, interceptors...)
	return r
}

// Clone creates a copy of this runner with its own interceptor chain.
// The config provider and backend are shared.
func (r *CommandRunner) Clone() *CommandRunner {
	cloned := &CommandRunner{
		interceptors:   make([]Interceptor, len(r.interceptors)),
		configProvider: r.configProvider,
		backend:        r.backend,
	}
	copy(cloned.interceptors, r.interceptors)
	return cloned
}

// CommandFunc is the signature for command handler functions.
type CommandFunc func(ctx *CommandContext, cmd *cobra.Command, args []string) error

// Wrap creates a cobra.RunE function with the interceptor chain applied.
func (r *CommandRunner) Wrap(fn CommandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, cfgErr := r.configProvider()
		ctx := NewContext(cfg, cfgErr)
		ctx.backend = r.backend

		// Build the chain: interceptors wrap the handler
		chain := func() error { return fn(ctx, cmd, args) }

		// Wrap in reverse order so first interceptor runs first
		for i := len(r.interceptors) - 1; i >= 0; i-- {
			interceptor := r.interceptors[i]
			next := chain
			chain = func() error { return interceptor(ctx, cmd, args, next) }
		}

		return chain()
	}
}

// Builder helps construct runners with common interceptor patterns.
type Builder struct {
	provider ConfigProvider
	backend  Backend
}

// NewBuilder creates a new runner builder with the given config provider
// and control API backend.
func NewBuilder(provider ConfigProvider, backend Backend) *Builder {
	return &Builder{provider: provider, backend: backend}
}

// Base creates a runner with just logging.
func (b *Builder) Base() *CommandRunner {
	return NewRunner(b.provider).WithBackend(b.backend).Use(WithLogging())
}

// Config creates a runner that requires config to be loaded.
func (b *Builder) Config() *CommandRunner {
	return NewRunner(b.provider).WithBackend(b.backend).Use(
		WithLogging(),
		RequireConfig(),
	)
}

// Client creates a runner for commands that talk to the control API.
func (b *Builder) Client() *CommandRunner {
	return NewRunner(b.provider).WithBackend(b.backend).Use(
		WithLogging(),
		RequireConfig(),
		WithClient(),
	)
}
