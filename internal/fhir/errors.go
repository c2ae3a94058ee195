package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the storage and search engine. Handlers map them to
// HTTP status codes and OperationOutcome bodies in exactly one place.
var (
	ErrNotFound       = errors.New("not found")
	ErrGone           = errors.New("deleted")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("version conflict")
	ErrNotImplemented = errors.New("not implemented")
)

// BadRequestf wraps ErrBadRequest with a formatted message.
func BadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrBadRequest}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// StatusFor maps an error to its HTTP status code. Unrecognized errors are
// internal failures.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeFor builds the OperationOutcome for an error. Internal errors get
// a generic message so storage details never reach the client.
func OutcomeFor(err error) *OperationOutcome {
	switch {
	case errors.Is(err, ErrNotFound):
		return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, err.Error())
	case errors.Is(err, ErrGone):
		return NewOperationOutcome(IssueSeverityError, IssueTypeDeleted, err.Error())
	case errors.Is(err, ErrBadRequest):
		return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, err.Error())
	case errors.Is(err, ErrConflict):
		return NewOperationOutcome(IssueSeverityError, IssueTypeConflict, err.Error())
	case errors.Is(err, ErrNotImplemented):
		return NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported, err.Error())
	default:
		return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, "internal server error")
	}
}
