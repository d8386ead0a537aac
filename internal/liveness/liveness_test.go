package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/testutil"
)

func TestLastOpen_Absent(t *testing.T) {
	r := New(testutil.OpenDB(t), testutil.NewClock(), nil)

	_, ok, err := r.LastOpen(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordOpen(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock()
	r := New(testutil.OpenDB(t), clock, nil)

	r.RecordOpen(ctx)
	clock.Advance(90 * time.Minute)
	recorded := r.RecordOpen(ctx)

	got, ok, err := r.LastOpen(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(recorded))
	assert.True(t, got.Equal(testutil.Epoch.Add(90*time.Minute)))
}

func TestLastOpen_Malformed(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	require.NoError(t, db.Put(ctx, KeyLastOpenTime, "yesterday"))

	_, ok, err := New(db, testutil.NewClock(), nil).LastOpen(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastOpen_ReadsOriginalFormat(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	require.NoError(t, db.Put(ctx, KeyLastOpenTime, "2024-03-01T09:30:00.000Z"))

	got, ok, err := New(db, testutil.NewClock(), nil).LastOpen(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestRecordOpen_SwallowsStorageFailure(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	core, logs := observer.New(zap.ErrorLevel)
	r := New(db, testutil.NewClock(), zap.New(core))
	require.NoError(t, db.Close())

	assert.NotPanics(t, func() { r.RecordOpen(ctx) })
	assert.Equal(t, 1, logs.Len())

	_, _, err := r.LastOpen(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}
