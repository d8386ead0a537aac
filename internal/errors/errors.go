// Package errors provides the error taxonomy for the safetrack engine.
package errors

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	// ErrValidation is returned when user-supplied configuration is rejected
	// before anything is persisted.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied is returned when foreground location permission is
	// not granted.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationUnavailable is returned when no fix could be acquired.
	ErrLocationUnavailable = errors.New("location services unavailable")

	// ErrStorage is returned when a durable read or write fails.
	ErrStorage = errors.New("database operation failed")

	// ErrDelivery is returned when an alert could not be sent to a contact.
	ErrDelivery = errors.New("alert delivery failed")
)

// Lifecycle errors
var (
	// ErrAlreadyLocked is returned when another daemon holds the data directory.
	ErrAlreadyLocked = errors.New("data directory is locked by another process")

	// ErrBusy is returned by an on-demand capture or check while the same job
	// is already running one.
	ErrBusy = errors.New("already in progress")
)

// ValidationError describes a rejected configuration value.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is reports ErrValidation so callers can match the class without a type switch.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// Storage wraps a driver error so it matches ErrStorage.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Delivery wraps a messaging error so it matches ErrDelivery.
func Delivery(contact string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w to %s: %w", ErrDelivery, contact, err)
}

// Unavailable wraps a provider error so it matches ErrLocationUnavailable.
// Errors that already carry the class are returned unchanged.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrLocationUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
}

// Kind returns a short stable label for the error class, used as a metrics
// label and in tick reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrLocationUnavailable):
		return "location_unavailable"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "unknown"
	}
}
