package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Error classes shared by the store, engine and API layers. Callers
// classify with errors.Is.
var (
	ErrNotFound   = eris.New("not found")
	ErrValidation = eris.New("validation failed")
	ErrConflict   = eris.New("conflict")
)

// NotFound returns an ErrNotFound-class error naming the resource.
func NotFound(resource, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", resource, id)
}

// Invalid returns an ErrValidation-class error with a formatted message.
func Invalid(format string, args ...any) error {
	return eris.Wrap(ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConflict-class error wrapping cause.
func Conflict(cause error, msg string) error {
	if cause == nil {
		return eris.Wrap(ErrConflict, msg)
	}
	return eris.Wrapf(ErrConflict, "%s: %s", msg, cause.Error())
}

// ErrorCode maps an error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
