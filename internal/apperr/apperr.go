// Package apperr defines the error kinds shared by every service in the
// engine. Domain packages wrap one of these kinds so callers can branch on
// the kind with errors.Is without knowing the concrete error.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound: a referenced pool, deposit, user or market does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: the resource is in the wrong lifecycle state
	// (pool inactive, deposit already withdrawn, market not active).
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized: the caller does not own the referenced resource.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientFunds: user balance or pool liquidity is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrValidation: malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict: a transactional precondition failed because of a
	// concurrent writer. Safe to retry.
	ErrConflict = errors.New("concurrent update conflict")
)

// Coded is implemented by errors that carry a machine-readable code.
type Coded interface {
	Code() string
}

// CodedError pairs an error kind with a stable code and a user-facing message.
type CodedError struct {
	Kind    error
	code    string
	Message string
}

// New creates a CodedError of the given kind.
func New(kind error, code, message string) *CodedError {
	return &CodedError{Kind: kind, code: code, Message: message}
}

func (e *CodedError) Error() string { return e.Message }
func (e *CodedError) Code() string  { return e.code }
func (e *CodedError) Unwrap() error { return e.Kind }

// Code returns the machine-readable code for err. Errors without an explicit
// code fall back to a code derived from their kind.
func Code(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	}
	return "INTERNAL"
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
