package runner

import (
	"context"
	"sync"

	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/rpc"
)

// Backend connects to the control API. The returned func releases whatever
// the connection holds and may be nil.
type Backend func(ctx context.Context, cfg *config.Config) (*rpc.Client, func() error, error)

// CommandContext provides shared dependencies to command handlers.
// Dependencies are lazily initialized on first access to avoid unnecessary work.
type CommandContext struct {
	// Config is the loaded configuration (may be nil if not initialized)
	Config *config.Config

	// ConfigErr is the error from loading config, if any
	ConfigErr error

	backend    Backend
	client     *rpc.Client
	release    func() error
	clientErr  error
	clientOnce sync.Once
}

// NewContext creates a new CommandContext with the given config.
func NewContext(cfg *config.Config, cfgErr error) *CommandContext {
	return &CommandContext{
		Config:    cfg,
		ConfigErr: cfgErr,
	}
}

// Client returns a lazily-connected control API client.
func (c *CommandContext) Client(ctx context.Context) (*rpc.Client, error) {
	c.clientOnce.Do(func() {
		switch {
		case c.backend == nil:
			c.clientErr = ErrNoBackend
		case c.Config == nil:
			c.clientErr = ErrNotInitialized
		default:
			c.client, c.release, c.clientErr = c.backend(ctx, c.Config)
		}
	})
	return c.client, c.clientErr
}

// Close releases the client connection, if one was made.
func (c *CommandContext) Close() error {
	if c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	return release()
}

// HasConfig returns true if config is loaded successfully.
func (c *CommandContext) HasConfig() bool {
	return c.Config != nil && c.ConfigErr == nil
}
