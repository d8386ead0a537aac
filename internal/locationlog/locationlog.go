// Package locationlog is the append-only, time-ordered record of captured
// fixes with age-based retention.
package locationlog

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// Backend is the durable append log.
type Backend interface {
	InsertLocation(ctx context.Context, lat, lon float64, ts time.Time) (int64, error)
	ListLocations(ctx context.Context, limit, offset int) ([]domain.LocationRecord, error)
	DeleteLocationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountLocations(ctx context.Context) (int64, error)
}

// Store appends and reads location records.
type Store struct {
	backend Backend
	clock   clockwork.Clock
}

// New creates a location log over backend.
func New(backend Backend, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{backend: backend, clock: clock}
}

// Append stores a fix stamped with the current time.
func (s *Store) Append(ctx context.Context, lat, lon float64) (domain.LocationRecord, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return domain.LocationRecord{}, err
	}
	ts := s.clock.Now()
	id, err := s.backend.InsertLocation(ctx, lat, lon, ts)
	if err != nil {
		return domain.LocationRecord{}, err
	}
	return domain.LocationRecord{ID: id, Latitude: lat, Longitude: lon, Timestamp: ts}, nil
}

// Recent returns at most n records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]domain.LocationRecord, error) {
	if n <= 0 {
		return []domain.LocationRecord{}, nil
	}
	return s.List(ctx, n, 0)
}

// List pages through the log newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.LocationRecord, error) {
	if limit <= 0 {
		return []domain.LocationRecord{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	recs, err := s.backend.ListLocations(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []domain.LocationRecord{}
	}
	return recs, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.backend.CountLocations(ctx)
}

// PruneOlderThan deletes every record captured before now minus days and
// returns how many were removed. A record exactly at the cutoff is kept.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, apperrors.Invalid("days", days, "must not be negative")
	}
	return s.backend.DeleteLocationsBefore(ctx, s.Cutoff(days))
}

// Cutoff returns the pruning boundary for days.
func (s *Store) Cutoff(days int) time.Time {
	return s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
}

// ValidateCoordinates rejects out-of-range and non-finite coordinates.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return apperrors.Invalid("latitude", lat, "must be between -90 and 90")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return apperrors.Invalid("longitude", lon, "must be between -180 and 180")
	}
	return nil
}
