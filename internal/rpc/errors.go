package rpc

import (
	"errors"

	"connectrpc.com/connect"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// toConnectError maps an engine error to a connect code. The message is
// sanitized so contact numbers and file paths never reach clients.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return connect.NewError(codeOf(err), errors.New(apperrors.SanitizeError(err)))
}

func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return connect.CodeInvalidArgument
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return connect.CodeFailedPrecondition
	case errors.Is(err, apperrors.ErrLocationUnavailable), errors.Is(err, apperrors.ErrDelivery):
		return connect.CodeUnavailable
	case errors.Is(err, apperrors.ErrStorage):
		return connect.CodeInternal
	case errors.Is(err, apperrors.ErrAlreadyLocked), errors.Is(err, apperrors.ErrBusy):
		return connect.CodeAborted
	default:
		return connect.CodeUnknown
	}
}

// FromConnectError restores the engine error class carried by a connect
// error so clients can match it with errors.Is.
func FromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	var class error
	switch cerr.Code() {
	case connect.CodeInvalidArgument:
		class = apperrors.ErrValidation
	case connect.CodeFailedPrecondition:
		class = apperrors.ErrPermissionDenied
	case connect.CodeInternal:
		class = apperrors.ErrStorage
	case connect.CodeAborted:
		class = apperrors.ErrBusy
	default:
		return err
	}
	return &classifiedError{class: class, err: cerr}
}

type classifiedError struct {
	class error
	err   *connect.Error
}

func (e *classifiedError) Error() string { return e.err.Message() }

func (e *classifiedError) Unwrap() []error { return []error{e.class, e.err} }
