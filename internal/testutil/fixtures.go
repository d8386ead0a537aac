package testutil

import (
	"github.com/lcrostarosa/safetrack/internal/domain"
)

// TrackFixture is a sequence of plausible fixes around a starting point
type TrackFixture struct {
	// Fixes are the generated readings in capture order
	Fixes []domain.Fix
	// Origin is the first reading
	Origin domain.Fix
}

// NewTrackFixture creates n fixes that drift by up to ~100m per step.
// By default the origin is random.
func NewTrackFixture(n int, opts ...FixtureOption) *TrackFixture {
	r := newRand(opts...)
	origin := domain.Fix{
		Latitude:  r.Float64()*160 - 80,
		Longitude: r.Float64()*340 - 170,
	}

	fixes := make([]domain.Fix, 0, n)
	cur := origin
	for i := 0; i < n; i++ {
		fixes = append(fixes, cur)
		cur.Latitude += (r.Float64() - 0.5) * 0.002
		cur.Longitude += (r.Float64() - 0.5) * 0.002
	}
	return &TrackFixture{Fixes: fixes, Origin: origin}
}

// Locator returns a fake provider that replays the track
func (f *TrackFixture) Locator() *FakeLocator {
	return NewFakeLocator(f.Fixes...)
}
