package settings

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/storage"
	"github.com/lcrostarosa/safetrack/internal/testutil"
)

func newStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	return New(db, Defaults{LocationIntervalMinutes: 15, InactivityThresholdHours: 24}, nil), db
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestGet_Defaults(t *testing.T) {
	s, _ := newStore(t)

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Settings{
		LocationIntervalMinutes:  15,
		InactivityThresholdHours: 24,
		SOSContacts:              []string{},
	}, got)
}

func TestNew_InvalidDefaultsFallBack(t *testing.T) {
	s := New(testutil.OpenDB(t), Defaults{LocationIntervalMinutes: 0, InactivityThresholdHours: math.NaN()}, nil)
	assert.Equal(t, Defaults{LocationIntervalMinutes: 15, InactivityThresholdHours: 24}, s.Defaults())
}

func TestGet_MalformedValuesResolveToDefaults(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)

	require.NoError(t, db.Put(ctx, KeyLocationInterval, "soon"))
	require.NoError(t, db.Put(ctx, KeyInactivityThreshold, "-3"))
	require.NoError(t, db.Put(ctx, KeySOSContacts, "{not json"))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, got.LocationIntervalMinutes)
	assert.Equal(t, 24.0, got.InactivityThresholdHours)
	assert.Empty(t, got.SOSContacts)
}

func TestSetLocationInterval(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.SetLocationInterval(ctx, 5))

	for _, minutes := range []int{0, -1, math.MinInt} {
		err := s.SetLocationInterval(ctx, minutes)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		got, err := s.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, got.LocationIntervalMinutes, "prior interval unchanged")
	}
}

func TestSetInactivityThreshold(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.SetInactivityThreshold(ctx, 0.5))

	for _, hours := range []float64{0, -2, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, s.SetInactivityThreshold(ctx, hours), apperrors.ErrValidation)
	}

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.InactivityThresholdHours)
}

func TestSetContacts_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.SetContacts(ctx, []string{"+15551234567", "+44 20 7946 0958"}))

	err := s.SetContacts(ctx, []string{"+15550000000", "call me", "0123"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "call me", verr.Value, "names the first invalid entry")

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"+15551234567", "+44 20 7946 0958"}, got.SOSContacts)
}

func TestSetContacts_Empty(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)

	require.NoError(t, s.SetContacts(ctx, []string{"+15551234567"}))
	require.NoError(t, s.SetContacts(ctx, nil))

	raw, ok, err := db.Get(ctx, KeySOSContacts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

func TestUpdate_ValidatesEverythingBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	err := s.Update(ctx, domain.SettingsUpdate{
		LocationIntervalMinutes:  intPtr(30),
		InactivityThresholdHours: floatPtr(-1),
		SOSContacts:              []string{"+15551234567"},
		SetContacts:              true,
	})
	require.Error(t, err)

	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, KeyInactivityThreshold, verr.Field)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, got.LocationIntervalMinutes, "valid field not applied when another is invalid")
	assert.Empty(t, got.SOSContacts)
}

func TestUpdate_FieldOrder(t *testing.T) {
	s, _ := newStore(t)

	err := s.Update(context.Background(), domain.SettingsUpdate{
		LocationIntervalMinutes:  intPtr(0),
		InactivityThresholdHours: floatPtr(0),
	})
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, KeyLocationInterval, verr.Field, "location interval is validated first")
}

func TestUpdate_AppliesProvidedFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.SetContacts(ctx, []string{"+15551234567"}))

	require.NoError(t, s.Update(ctx, domain.SettingsUpdate{InactivityThresholdHours: floatPtr(36)}))
	require.NoError(t, s.Update(ctx, domain.SettingsUpdate{}))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, got.LocationIntervalMinutes)
	assert.Equal(t, 36.0, got.InactivityThresholdHours)
	assert.Equal(t, []string{"+15551234567"}, got.SOSContacts, "contacts left alone")
}

func TestStorageFailure(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)
	require.NoError(t, db.Close())

	_, err := s.Get(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.ErrorIs(t, s.SetLocationInterval(ctx, 10), apperrors.ErrStorage)
	assert.ErrorIs(t, s.Update(ctx, domain.SettingsUpdate{LocationIntervalMinutes: intPtr(10)}), apperrors.ErrStorage)
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"+15551234567", true},
		{"15551234567", true},
		{"+1 555 123 4567", true},
		{"+49\t30 1234", true},
		{"+0123", false},
		{"1", false},
		{"+1234567890123456", false},
		{"555-1234", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidPhone(tt.in))
		})
	}
}
