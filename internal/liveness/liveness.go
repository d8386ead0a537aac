// Package liveness records when the user last opened the application.
package liveness

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// KeyLastOpenTime is the settings row holding the liveness mark.
const KeyLastOpenTime = "last_open_time"

// KV is the durable key-value store the mark lives in.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Recorder writes and reads the liveness mark.
type Recorder struct {
	kv    KV
	clock clockwork.Clock
	log   *zap.Logger
}

// New creates a recorder.
func New(kv KV, clock clockwork.Clock, log *zap.Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{kv: kv, clock: clock, log: log}
}

// RecordOpen sets the mark to now. Failures are logged, never returned, so
// recording can't interrupt startup. It returns the recorded instant.
func (r *Recorder) RecordOpen(ctx context.Context) time.Time {
	now := r.clock.Now()
	if err := r.kv.Put(ctx, KeyLastOpenTime, now.UTC().Format(time.RFC3339Nano)); err != nil {
		r.log.Error("Failed to record app open", zap.Error(err))
	}
	return now
}

// LastOpen returns the mark. ok is false when the app was never opened or the
// stored value is unreadable.
func (r *Recorder) LastOpen(ctx context.Context) (t time.Time, ok bool, err error) {
	raw, ok, err := r.kv.Get(ctx, KeyLastOpenTime)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if perr != nil {
		r.log.Warn("Ignoring malformed liveness mark", zap.String("value", raw), zap.Error(perr))
		return time.Time{}, false, nil
	}
	return t, true, nil
}
