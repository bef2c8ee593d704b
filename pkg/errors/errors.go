package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
	ErrConflict      = errors.New("conflict")

	// ErrTransient marks a downstream failure that is safe to retry.
	ErrTransient = errors.New("transient service error")
	// ErrPermanent marks a downstream failure that will not succeed on retry
	// and must trigger compensation.
	ErrPermanent = errors.New("permanent service error")
	// ErrVersionConflict is returned by the order store when a conditional
	// write loses an optimistic concurrency race. Never surfaced to callers.
	ErrVersionConflict = errors.New("version conflict")
	// ErrLeaseHeld is returned when another worker holds the progress lease
	// for an order. The caller backs off and re-polls.
	ErrLeaseHeld = errors.New("order lease held by another worker")
	// ErrCompensationExhausted marks a compensation step that ran out of
	// retry budget. The order is escalated to operator handling.
	ErrCompensationExhausted = errors.New("compensation retry budget exhausted")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Transient creates a retryable downstream-service error. The saga
// orchestrator retries these against the per-step budget.
func Transient(message string) *AppError {
	return &AppError{
		Code:    "TRANSIENT_SERVICE_ERROR",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrTransient,
	}
}

// Permanent creates a non-retryable downstream-service error. The saga
// orchestrator reacts by compensating completed steps.
func Permanent(message string) *AppError {
	return &AppError{
		Code:    "PERMANENT_SERVICE_ERROR",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrPermanent,
	}
}

// TransientWrap wraps err and classifies it as retryable.
func TransientWrap(err error, message string) *AppError {
	return &AppError{
		Code:    "TRANSIENT_SERVICE_ERROR",
		Message: fmt.Sprintf("%s: %v", message, err),
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrTransient, err),
	}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrLeaseHeld):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPermanent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
