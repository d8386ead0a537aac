// Package runner provides an interceptor-based command execution framework for CLI commands.
// It mirrors the pattern used by Connect-RPC interceptors, providing consistent middleware
// semantics for CLI command handlers.
package runner

import "errors"

// Standard errors returned by interceptors
var (
	// ErrNotInitialized is returned when no configuration could be loaded
	ErrNotInitialized = errors.New("safetrack configuration not loaded")

	// ErrDaemonUnreachable is returned when the control API cannot be dialed
	ErrDaemonUnreachable = errors.New("safetrack daemon is not reachable - start it with 'safetrack serve' or pass --offline")

	// ErrNoBackend is returned when a command needs the control API but the
	// runner was built without a way to reach it
	ErrNoBackend = errors.New("no control API backend configured")
)
