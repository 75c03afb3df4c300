package models

import "errors"

// Sentinel errors shared by domain entity validation.
var (
	// ErrInvalidAdState indicates an AdState invariant was violated
	// (alpha/beta below 1, or clicks exceeding impressions).
	ErrInvalidAdState = errors.New("invalid ad state")

	// ErrUnknownStage indicates a stage name absent from the tenant's
	// StageConfig.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrInvalidChangeType indicates a change_type outside the closed
	// tagged variant.
	ErrInvalidChangeType = errors.New("invalid change type")
)
