package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTenant is returned when a request names a tenant the
	// registry has no config for.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrDuplicateIdempotencyKey is returned when an enqueue names an
	// idempotency_key already in use with a conflicting payload.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already in use")

	// ErrUnknownAd is returned when a feedback update names an ad_id
	// with no matching row in ad_states.
	ErrUnknownAd = errors.New("unknown ad")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
