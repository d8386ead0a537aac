package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesClass(t *testing.T) {
	err := Invalid("location interval", 0, "must be at least 1 minute")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrStorage))
	assert.Equal(t, "invalid location interval 0: must be at least 1 minute", err.Error())

	var ve *ValidationError
	assert.True(t, errors.As(fmt.Errorf("update: %w", err), &ve))
	assert.Equal(t, "location interval", ve.Field)
}

func TestWrappersKeepCause(t *testing.T) {
	cause := errors.New("disk full")

	err := Storage("append location", cause)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))

	err = Delivery("+15551234567", cause)
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.True(t, errors.Is(err, cause))

	assert.NoError(t, Storage("noop", nil))
	assert.NoError(t, Delivery("x", nil))
}

func TestUnavailableDoesNotDoubleWrap(t *testing.T) {
	err := Unavailable(ErrLocationUnavailable)
	assert.Same(t, ErrLocationUnavailable, err)

	err = Unavailable(errors.New("timeout"))
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{Invalid("f", nil, "r"), "validation"},
		{ErrPermissionDenied, "permission_denied"},
		{Unavailable(errors.New("x")), "location_unavailable"},
		{Storage("op", errors.New("x")), "storage"},
		{Delivery("c", errors.New("x")), "delivery"},
		{fmt.Errorf("check: %w", ErrBusy), "busy"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestSanitizeString(t *testing.T) {
	msg := SanitizeString("send to +15551234567 failed: open /home/alice/.safetrack/db: token=abc123")

	assert.NotContains(t, msg, "5551234567")
	assert.NotContains(t, msg, "/home/alice")
	assert.NotContains(t, msg, "abc123")
	assert.Empty(t, SanitizeError(nil))
}
