// Package scheduler runs periodic tasks behind cancellable tickets
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrSkipped is returned by a task that declined to run this tick, for
// example because the previous invocation is still in flight.
var ErrSkipped = errors.New("tick skipped")

// Task is the body of a periodic job.
type Task func(ctx context.Context) error

// Ticket is the handle of one scheduled periodic task. Cancelling it stops
// future ticks immediately; a tick that is already running is allowed to
// finish.
type Ticket struct {
	name      string
	interval  time.Duration
	callbacks *Callbacks
	immediate bool

	stop       chan struct{}
	done       chan struct{}
	cancelOnce sync.Once

	mu        sync.Mutex
	cancelled bool
}

// Option configures a Ticket.
type Option func(*Ticket)

// WithName labels the ticket in callbacks and logs.
func WithName(name string) Option {
	return func(t *Ticket) { t.name = name }
}

// WithImmediate fires the task once on the ticket's goroutine as soon as it
// is scheduled, then every interval.
func WithImmediate() Option {
	return func(t *Ticket) { t.immediate = true }
}

// WithCallbacks attaches lifecycle hooks.
func WithCallbacks(c *Callbacks) Option {
	return func(t *Ticket) { t.callbacks = c }
}

// Every schedules task to run every interval on clock, starting one interval
// from now unless WithImmediate is given. ctx supplies values to each run; its cancellation does not stop
// the ticket, only Cancel does.
func Every(ctx context.Context, clock clockwork.Clock, interval time.Duration, task Task, opts ...Option) (*Ticket, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	t := &Ticket{
		name:     "task",
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	ticker := clock.NewTicker(interval)
	go t.run(context.WithoutCancel(ctx), clock, ticker, task)
	return t, nil
}

func (t *Ticket) run(ctx context.Context, clock clockwork.Clock, ticker clockwork.Ticker, task Task) {
	defer close(t.done)
	defer ticker.Stop()

	if t.immediate {
		select {
		case <-t.stop:
			return
		default:
		}
		t.fire(ctx, clock, task)
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			// Cancel may have raced with the tick; cancellation wins.
			select {
			case <-t.stop:
				return
			default:
			}
			t.fire(ctx, clock, task)
		}
	}
}

func (t *Ticket) fire(ctx context.Context, clock clockwork.Clock, task Task) {
	result := &TickResult{Name: t.name, StartTime: clock.Now()}
	t.callbacks.callOnTickStart(result)

	err := runSafely(ctx, task)

	result.EndTime = clock.Now()
	result.Error = err

	switch {
	case errors.Is(err, ErrSkipped):
		result.Skipped = true
		t.callbacks.callOnTickSkipped(result)
	case err != nil:
		t.callbacks.callOnTickFailure(result)
	default:
		result.Success = true
		t.callbacks.callOnTickSuccess(result)
	}
}

// runSafely converts a panicking task into an error so one bad tick cannot
// kill the schedule.
func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Cancel stops the ticket. It never blocks and is safe to call repeatedly or
// on a nil ticket.
func (t *Ticket) Cancel() {
	if t == nil {
		return
	}
	t.cancelOnce.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
		close(t.stop)
	})
}

// Wait blocks until the ticket's goroutine has exited, including any tick
// that was in flight when Cancel was called.
func (t *Ticket) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

// Active reports whether the ticket has not been cancelled.
func (t *Ticket) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelled
}

// Interval returns the period the ticket was armed with.
func (t *Ticket) Interval() time.Duration {
	return t.interval
}

// FormatDuration formats a duration nicely
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
