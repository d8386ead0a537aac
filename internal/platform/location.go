// Package platform provides the host-side collaborators the engine consumes:
// the permission oracle, location providers and messaging channels.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// StaticPermission answers permission queries from configuration. A request
// returns the current answer; it never prompts.
type StaticPermission struct {
	granted atomic.Bool
}

// NewStaticPermission creates an oracle with the given answer.
func NewStaticPermission(granted bool) *StaticPermission {
	p := &StaticPermission{}
	p.granted.Store(granted)
	return p
}

// Set changes the answer.
func (p *StaticPermission) Set(granted bool) {
	p.granted.Store(granted)
}

func (p *StaticPermission) HasForegroundPermission(context.Context) (bool, error) {
	return p.granted.Load(), nil
}

func (p *StaticPermission) RequestForegroundPermission(context.Context) (bool, error) {
	return p.granted.Load(), nil
}

// FixedLocator always reports the same fix.
type FixedLocator struct {
	Fix domain.Fix
}

func (l FixedLocator) CurrentFix(context.Context) (domain.Fix, error) {
	return l.Fix, nil
}

// HTTPLocator reads a fix from a JSON endpoint returning
// {"latitude": ..., "longitude": ...}.
type HTTPLocator struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPLocator creates a locator for url. Every request is bounded by timeout.
func NewHTTPLocator(url string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{url: url, timeout: timeout, client: &http.Client{}}
}

type fixResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (l *HTTPLocator) CurrentFix(ctx context.Context) (domain.Fix, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return domain.Fix{}, apperrors.Unavailable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.Fix{}, apperrors.Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Fix{}, apperrors.Unavailable(fmt.Errorf("location endpoint returned %s", resp.Status))
	}

	var body fixResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return domain.Fix{}, apperrors.Unavailable(fmt.Errorf("decode fix: %w", err))
	}
	if body.Latitude == nil || body.Longitude == nil {
		return domain.Fix{}, apperrors.Unavailable(fmt.Errorf("fix is missing coordinates"))
	}
	return domain.Fix{Latitude: *body.Latitude, Longitude: *body.Longitude}, nil
}
