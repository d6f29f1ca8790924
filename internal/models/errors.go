package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for policy decisions.
var (
	ErrIPNotAllowed     = errors.New("source address not allowed")
	ErrUnauthorized     = errors.New("invalid or missing API key")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrEntityNotExposed = errors.New("entity not exposed")
	ErrReadOnly         = errors.New("entity is read-only")
	ErrDomainMismatch   = errors.New("entity does not belong to the requested domain")
	ErrOutsideSchedule  = errors.New("entity is outside its allowed schedule")
	ErrNoTargets        = errors.New("no controllable entities in domain")
)

// Sentinel errors for lookups and state.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUpstream            = errors.New("backend request failed")
	ErrConfirmationExpired = errors.New("confirmation expired")
	ErrActionResolved      = errors.New("action already resolved")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%w: %s exceeds maximum length of %d", ErrInvalidRequest, field, maxLen)
}

// ErrFieldRequired returns an error indicating a required field is missing.
func ErrFieldRequired(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
}

// ErrInvalidField returns an error describing why a field was rejected.
func ErrInvalidField(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidRequest, field, reason)
}
