package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error
// messages: struct-tag validation first (go-playground/validator), then
// cross-field and semantic checks that tags alone cannot express.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at the
// first error). Order: executor → defaults → tenants, so dependencies are
// validated before dependents.
func (v *Validator) ValidateAll() error {
	if err := v.validateExecutor(); err != nil {
		return fmt.Errorf("executor validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	if err := v.validateTenants(); err != nil {
		return fmt.Errorf("tenant validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateExecutor() error {
	e := v.cfg.Executor
	if e == nil {
		return fmt.Errorf("executor configuration is nil")
	}
	if e.WorkerCount < 1 || e.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", e.WorkerCount)
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", e.PollInterval)
	}
	if e.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", e.PollIntervalJitter)
	}
	if e.PollIntervalJitter >= e.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v",
			e.PollIntervalJitter, e.PollInterval)
	}
	if e.ClaimTimeout <= 0 {
		return fmt.Errorf("claim_timeout must be positive, got %v", e.ClaimTimeout)
	}
	if e.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", e.MaxAttempts)
	}
	if e.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", e.GracefulShutdownTimeout)
	}
	if e.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", e.OrphanDetectionInterval)
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d == nil {
		return fmt.Errorf("defaults configuration is nil")
	}
	if err := v.v.Struct(d); err != nil {
		return NewValidationError("defaults", "global", "", err)
	}
	if !d.Mode.IsValid() {
		return NewValidationError("defaults", "global", "mode", fmt.Errorf("%w: %q", ErrInvalidValue, d.Mode))
	}
	if d.BaselineStrategy != "" && !d.BaselineStrategy.IsValid() {
		return NewValidationError("defaults", "global", "baseline_strategy",
			fmt.Errorf("%w: %q", ErrInvalidValue, d.BaselineStrategy))
	}
	return nil
}

func (v *Validator) validateTenants() error {
	for id, t := range v.cfg.TenantRegistry.GetAll() {
		if err := v.v.Struct(t); err != nil {
			return NewValidationError("tenant", id, "", err)
		}
		if !t.Mode.IsValid() {
			return NewValidationError("tenant", id, "mode", fmt.Errorf("%w: %q", ErrInvalidValue, t.Mode))
		}
		if len(t.Stages) == 0 {
			return NewValidationError("tenant", id, "stages", fmt.Errorf("%w: tenant has no stage values", ErrMissingRequiredField))
		}
		for _, stageName := range t.FunnelOrder {
			if _, ok := t.Stages[stageName]; !ok {
				return NewValidationError("tenant", id, "funnel_order",
					fmt.Errorf("%w: funnel references unknown stage %q", ErrInvalidReference, stageName))
			}
		}
		// Non-monotonic funnel value tables are logged, not rejected
		// (spec invariant: configuration warnings, not hard failures).
		t.StageConfig().CheckMonotonic()
	}
	return nil
}
