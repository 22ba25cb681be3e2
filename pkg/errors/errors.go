package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Reservation engine errors. Client-facing rejections are surfaced verbatim
// and never retried; LOCK_TIMEOUT is retried internally before degrading to
// RESERVATION_FAILED.
var (
	ErrSlotNotFound             = New("SLOT_NOT_FOUND", http.StatusNotFound, "slot not found")
	ErrSlotUnavailable          = New("SLOT_UNAVAILABLE", http.StatusConflict, "slot is not available")
	ErrInsufficientConsecutive  = New("INSUFFICIENT_CONSECUTIVE_SLOTS", http.StatusConflict, "not enough consecutive slots available")
	ErrReservationNotFound      = New("RESERVATION_NOT_FOUND", http.StatusNotFound, "no active reservation found")
	ErrInvalidTransition        = New("INVALID_TRANSITION", http.StatusInternalServerError, "illegal slot state transition")
	ErrLockTimeout              = New("LOCK_TIMEOUT", http.StatusServiceUnavailable, "timed out waiting for slot lock")
	ErrReservationFailed        = New("RESERVATION_FAILED", http.StatusServiceUnavailable, "reservation failed, please retry")
	ErrBookingNotCancellable    = New("BOOKING_NOT_CANCELLABLE", http.StatusConflict, "booking can no longer be cancelled")
	ErrSessionNotVerifiable     = New("SESSION_NOT_VERIFIABLE", http.StatusConflict, "session cannot be verified at this time")
	ErrSessionTypeNotOffered    = New("SESSION_TYPE_NOT_OFFERED", http.StatusConflict, "psychologist does not offer this session type")
	ErrProviderNotBookable      = New("PROVIDER_NOT_BOOKABLE", http.StatusConflict, "psychologist is not available for booking")
	ErrChildNotOwnedByRequester = New("CHILD_NOT_OWNED", http.StatusForbidden, "child does not belong to the booking parent")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given code.
func HasCode(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
