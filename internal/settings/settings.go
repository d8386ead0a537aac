// Package settings is the validated, defaulted user configuration store.
package settings

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/storage"
)

// Keys of the settings table.
const (
	KeyLocationInterval    = "location_interval_minutes"
	KeyInactivityThreshold = "inactivity_threshold_hours"
	KeySOSContacts         = "sos_contacts"
)

// Built-in defaults used when none are configured.
const (
	DefaultLocationIntervalMinutes  = 15
	DefaultInactivityThresholdHours = 24.0
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// KV is the durable key-value store the settings live in.
type KV interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Put(ctx context.Context, key, value string) error
	PutMany(ctx context.Context, kvs []storage.KeyValue) error
}

// Defaults are the values Get falls back to.
type Defaults struct {
	LocationIntervalMinutes  int
	InactivityThresholdHours float64
}

// Store reads and writes Settings.
type Store struct {
	kv       KV
	defaults Defaults
	log      *zap.Logger
}

// New creates a settings store. Invalid defaults are replaced by the
// built-in ones so Get can always return a valid record.
func New(kv KV, defaults Defaults, log *zap.Logger) *Store {
	if ValidateLocationInterval(defaults.LocationIntervalMinutes) != nil {
		defaults.LocationIntervalMinutes = DefaultLocationIntervalMinutes
	}
	if ValidateInactivityThreshold(defaults.InactivityThresholdHours) != nil {
		defaults.InactivityThresholdHours = DefaultInactivityThresholdHours
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, defaults: defaults, log: log}
}

// Defaults returns the effective defaults.
func (s *Store) Defaults() Defaults {
	return s.defaults
}

// Get returns the complete settings record. Missing or malformed values
// resolve to defaults; only a storage failure is an error.
func (s *Store) Get(ctx context.Context) (domain.Settings, error) {
	rows, err := s.kv.GetAll(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	out := domain.Settings{
		LocationIntervalMinutes:  s.defaults.LocationIntervalMinutes,
		InactivityThresholdHours: s.defaults.InactivityThresholdHours,
		SOSContacts:              []string{},
	}

	if raw, ok := rows[KeyLocationInterval]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && ValidateLocationInterval(v) == nil {
			out.LocationIntervalMinutes = v
		} else {
			s.log.Warn("Ignoring malformed setting", zap.String("key", KeyLocationInterval), zap.String("value", raw))
		}
	}
	if raw, ok := rows[KeyInactivityThreshold]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && ValidateInactivityThreshold(v) == nil {
			out.InactivityThresholdHours = v
		} else {
			s.log.Warn("Ignoring malformed setting", zap.String("key", KeyInactivityThreshold), zap.String("value", raw))
		}
	}
	if raw, ok := rows[KeySOSContacts]; ok {
		var contacts []string
		if err := json.Unmarshal([]byte(raw), &contacts); err == nil {
			if contacts != nil {
				out.SOSContacts = contacts
			}
		} else {
			s.log.Warn("Ignoring malformed setting", zap.String("key", KeySOSContacts), zap.Error(err))
		}
	}
	return out, nil
}

// SetLocationInterval persists the capture period in minutes.
func (s *Store) SetLocationInterval(ctx context.Context, minutes int) error {
	if err := ValidateLocationInterval(minutes); err != nil {
		return err
	}
	return s.kv.Put(ctx, KeyLocationInterval, strconv.Itoa(minutes))
}

// SetInactivityThreshold persists the breach threshold in hours.
func (s *Store) SetInactivityThreshold(ctx context.Context, hours float64) error {
	if err := ValidateInactivityThreshold(hours); err != nil {
		return err
	}
	return s.kv.Put(ctx, KeyInactivityThreshold, formatHours(hours))
}

// SetContacts replaces the contact list. Every entry is validated before
// anything is written.
func (s *Store) SetContacts(ctx context.Context, contacts []string) error {
	if err := ValidateContacts(contacts); err != nil {
		return err
	}
	raw, err := encodeContacts(contacts)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, KeySOSContacts, raw)
}

// Update applies the provided fields. Every field is validated first, in the
// order location interval, threshold, contacts; the first invalid one is
// returned and nothing is written. Otherwise all fields are persisted in a
// single batch.
func (s *Store) Update(ctx context.Context, u domain.SettingsUpdate) error {
	var kvs []storage.KeyValue

	if u.LocationIntervalMinutes != nil {
		if err := ValidateLocationInterval(*u.LocationIntervalMinutes); err != nil {
			return err
		}
		kvs = append(kvs, storage.KeyValue{Key: KeyLocationInterval, Value: strconv.Itoa(*u.LocationIntervalMinutes)})
	}
	if u.InactivityThresholdHours != nil {
		if err := ValidateInactivityThreshold(*u.InactivityThresholdHours); err != nil {
			return err
		}
		kvs = append(kvs, storage.KeyValue{Key: KeyInactivityThreshold, Value: formatHours(*u.InactivityThresholdHours)})
	}
	if u.SetContacts {
		if err := ValidateContacts(u.SOSContacts); err != nil {
			return err
		}
		raw, err := encodeContacts(u.SOSContacts)
		if err != nil {
			return err
		}
		kvs = append(kvs, storage.KeyValue{Key: KeySOSContacts, Value: raw})
	}

	if len(kvs) == 0 {
		return nil
	}
	if err := s.kv.PutMany(ctx, kvs); err != nil {
		return err
	}
	s.log.Info("Settings updated", zap.Int("fields", len(kvs)))
	return nil
}

// ValidateLocationInterval rejects intervals under one minute.
func ValidateLocationInterval(minutes int) error {
	if minutes < 1 {
		return apperrors.Invalid(KeyLocationInterval, minutes, "must be at least 1 minute")
	}
	return nil
}

// ValidateInactivityThreshold rejects non-positive and non-finite thresholds.
func ValidateInactivityThreshold(hours float64) error {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return apperrors.Invalid(KeyInactivityThreshold, hours, "must be a finite number")
	}
	if hours <= 0 {
		return apperrors.Invalid(KeyInactivityThreshold, hours, "must be greater than 0")
	}
	return nil
}

// ValidateContacts returns an error naming the first contact that is not a
// phone number.
func ValidateContacts(contacts []string) error {
	for _, c := range contacts {
		if !ValidPhone(c) {
			return apperrors.Invalid(KeySOSContacts, c, "not a valid phone number")
		}
	}
	return nil
}

// ValidPhone reports whether s is an E.164-like number once whitespace is
// removed.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(StripSpace(s))
}

// StripSpace removes every whitespace rune from s.
func StripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func encodeContacts(contacts []string) (string, error) {
	if contacts == nil {
		contacts = []string{}
	}
	b, err := json.Marshal(contacts)
	if err != nil {
		return "", apperrors.Invalid(KeySOSContacts, nil, err.Error())
	}
	return string(b), nil
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'g', -1, 64)
}
