package scheduler

import (
	"time"

	"go.uber.org/zap"
)

// TickResult holds the result of one tick
type TickResult struct {
	// Name is the ticket name
	Name string
	// StartTime is when the tick started
	StartTime time.Time
	// EndTime is when the tick completed
	EndTime time.Time
	// Success indicates the task returned nil
	Success bool
	// Skipped indicates the task declined to run
	Skipped bool
	// Error holds any error the task returned
	Error error
}

// Duration returns how long the tick took
func (r *TickResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Callbacks provides hooks for tick lifecycle events.
// All callbacks are optional - nil callbacks are simply not called.
type Callbacks struct {
	// OnTickStart is called before the task runs
	OnTickStart func(result *TickResult)

	// OnTickSuccess is called when the task returns nil
	OnTickSuccess func(result *TickResult)

	// OnTickFailure is called when the task returns an error. The schedule
	// keeps running.
	OnTickFailure func(result *TickResult)

	// OnTickSkipped is called when the task returns ErrSkipped
	OnTickSkipped func(result *TickResult)
}

func (c *Callbacks) callOnTickStart(result *TickResult) {
	if c != nil && c.OnTickStart != nil {
		c.OnTickStart(result)
	}
}

func (c *Callbacks) callOnTickSuccess(result *TickResult) {
	if c != nil && c.OnTickSuccess != nil {
		c.OnTickSuccess(result)
	}
}

func (c *Callbacks) callOnTickFailure(result *TickResult) {
	if c != nil && c.OnTickFailure != nil {
		c.OnTickFailure(result)
	}
}

func (c *Callbacks) callOnTickSkipped(result *TickResult) {
	if c != nil && c.OnTickSkipped != nil {
		c.OnTickSkipped(result)
	}
}

// LoggingCallbacks returns callbacks that log tick outcomes
func LoggingCallbacks(log *zap.Logger) *Callbacks {
	return &Callbacks{
		OnTickSuccess: func(result *TickResult) {
			log.Debug("Tick completed",
				zap.String("task", result.Name),
				zap.Duration("duration", result.Duration()))
		},
		OnTickFailure: func(result *TickResult) {
			log.Warn("Tick failed",
				zap.String("task", result.Name),
				zap.Duration("duration", result.Duration()),
				zap.Error(result.Error))
		},
		OnTickSkipped: func(result *TickResult) {
			log.Debug("Tick skipped, previous run still in flight",
				zap.String("task", result.Name))
		},
	}
}

// ChainCallbacks combines multiple callback handlers
func ChainCallbacks(callbacks ...*Callbacks) *Callbacks {
	return &Callbacks{
		OnTickStart: func(result *TickResult) {
			for _, c := range callbacks {
				c.callOnTickStart(result)
			}
		},
		OnTickSuccess: func(result *TickResult) {
			for _, c := range callbacks {
				c.callOnTickSuccess(result)
			}
		},
		OnTickFailure: func(result *TickResult) {
			for _, c := range callbacks {
				c.callOnTickFailure(result)
			}
		},
		OnTickSkipped: func(result *TickResult) {
			for _, c := range callbacks {
				c.callOnTickSkipped(result)
			}
		},
	}
}
