// Package domain holds the types shared by the safetrack stores and jobs and
// the capability interfaces the engine consumes from the host platform.
package domain

import (
	"context"
	"time"
)

// Settings is the complete, defaulted user configuration.
type Settings struct {
	LocationIntervalMinutes  int      `json:"location_interval_minutes"`
	InactivityThresholdHours float64  `json:"inactivity_threshold_hours"`
	SOSContacts              []string `json:"sos_contacts"`
}

// LocationInterval returns the capture period.
func (s Settings) LocationInterval() time.Duration {
	return time.Duration(s.LocationIntervalMinutes) * time.Minute
}

// InactivityThreshold returns the breach threshold.
func (s Settings) InactivityThreshold() time.Duration {
	return time.Duration(s.InactivityThresholdHours * float64(time.Hour))
}

// SettingsUpdate carries the fields to change. Nil fields are left alone.
type SettingsUpdate struct {
	LocationIntervalMinutes  *int
	InactivityThresholdHours *float64
	SOSContacts              []string
	// SetContacts distinguishes "clear the list" from "leave it alone".
	SetContacts bool
}

// IsEmpty reports whether the update changes nothing.
func (u SettingsUpdate) IsEmpty() bool {
	return u.LocationIntervalMinutes == nil && u.InactivityThresholdHours == nil && !u.SetContacts
}

// Fix is a single acquired coordinate reading.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationRecord is one persisted fix. Records are never updated.
type LocationRecord struct {
	ID        int64     `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertRecord is the outcome of one dispatch to one contact.
type AlertRecord struct {
	ID      int64     `json:"id"`
	BatchID string    `json:"batch_id"`
	Contact string    `json:"contact"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
	Error   string    `json:"error,omitempty"`
}

// Delivered reports whether the dispatch succeeded.
func (a AlertRecord) Delivered() bool { return a.Error == "" }

// PermissionOracle answers the platform's yes/no location permission contract.
type PermissionOracle interface {
	HasForegroundPermission(ctx context.Context) (bool, error)
	RequestForegroundPermission(ctx context.Context) (bool, error)
}

// LocationProvider acquires a fix. Implementations own their timeout and
// fail with errors matching ErrLocationUnavailable.
type LocationProvider interface {
	CurrentFix(ctx context.Context) (Fix, error)
}

// Messenger delivers one alert message to one contact.
type Messenger interface {
	Send(ctx context.Context, contact, message string) error
}
