// Package config provides configuration management for the ad-optimization
// core: per-tenant stage values and thresholds, executor tuning, retention,
// and alerting, loaded from YAML and merged with built-in defaults.
package config

import (
	"fmt"
	"sync"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// TenantConfig is a single tenant's stage-value registry, mode, and
// scoring thresholds. One TenantConfig is loaded per entry under
// `tenants` in adengine.yaml and merged against the built-in defaults.
type TenantConfig struct {
	TenantID string `yaml:"-"`

	Mode Mode `yaml:"mode,omitempty"`

	Stages      map[string]models.StageValue `yaml:"stages,omitempty"`
	FunnelOrder []string                     `yaml:"funnel_order,omitempty"`

	IgnoreZoneDaysDirect float64 `yaml:"ignore_zone_days_direct,omitempty" validate:"omitempty,gte=0"`
	FatigueWindowHours   float64 `yaml:"fatigue_window_hours,omitempty" validate:"omitempty,gt=0"`

	WinnerCTRThreshold  float64 `yaml:"winner_ctr_threshold,omitempty" validate:"omitempty,gte=0"`
	WinnerROASThreshold float64 `yaml:"winner_roas_threshold,omitempty" validate:"omitempty,gte=0"`
	WinnerMinSpendCents int64   `yaml:"winner_min_spend_cents,omitempty" validate:"omitempty,gte=0"`

	BaselineStrategy BaselineStrategy `yaml:"baseline_strategy,omitempty"`

	// Sampler tunables.
	IgnoreZoneDays          float64 `yaml:"ignore_zone_days,omitempty" validate:"omitempty,gte=0"`
	IgnoreZoneSpendCents    int64   `yaml:"ignore_zone_spend_cents,omitempty" validate:"omitempty,gte=0"`
	KillROASThreshold       float64 `yaml:"kill_roas_threshold,omitempty" validate:"omitempty,gte=0"`
	KillROASThresholdDirect float64 `yaml:"kill_roas_threshold_direct,omitempty" validate:"omitempty,gte=0"`
	ScaleROASThreshold      float64 `yaml:"scale_roas_threshold,omitempty" validate:"omitempty,gte=0"`
	KillConsecutiveEvals    int     `yaml:"kill_consecutive_evals,omitempty" validate:"omitempty,gte=1"`
	SoftmaxTemperature      float64 `yaml:"softmax_temperature,omitempty" validate:"omitempty,gt=0"`
	MaxStepPct              float64 `yaml:"max_step_pct,omitempty" validate:"omitempty,gt=0,lte=1"`

	// BlendedDecayGamma is the scorer's tenant-tunable fatigue decay
	// rate. Zero means "use the scorer's built-in default".
	BlendedDecayGamma float64 `yaml:"blended_decay_gamma,omitempty" validate:"omitempty,gt=0"`

	// Fatigue detector tunables.
	FatigueMaxImpressions       int64   `yaml:"fatigue_max_impressions,omitempty" validate:"omitempty,gt=0"`
	FatigueFlatlineImpressions  int64   `yaml:"fatigue_flatline_impressions,omitempty" validate:"omitempty,gt=0"`
	FatigueMinWindowImpressions int64   `yaml:"fatigue_min_window_impressions,omitempty" validate:"omitempty,gt=0"`
	FatigueBudgetDecreasePct    float64 `yaml:"fatigue_budget_decrease_pct,omitempty" validate:"omitempty,gt=0,lte=1"`
	FatigueBudgetFloorCents     int64   `yaml:"fatigue_budget_floor_cents,omitempty" validate:"omitempty,gte=0"`

	// Safe Executor anti-abuse tunables.
	MaxChangesPerHour int     `yaml:"max_changes_per_hour,omitempty" validate:"omitempty,gt=0"`
	MaxVelocityPct6h  float64 `yaml:"max_velocity_pct_6h,omitempty" validate:"omitempty,gt=0,lte=1"`
	JitterMinSeconds  float64 `yaml:"jitter_min_s,omitempty" validate:"omitempty,gte=0"`
	JitterMaxSeconds  float64 `yaml:"jitter_max_s,omitempty" validate:"omitempty,gt=0"`
	BatchThreshold    int     `yaml:"batch_threshold,omitempty" validate:"omitempty,gt=0"`
	FuzzPct           float64 `yaml:"fuzz_pct,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// StageConfig projects the tenant's stage registry into the models.StageConfig
// value used by the attributor.
func (t *TenantConfig) StageConfig() *models.StageConfig {
	return &models.StageConfig{
		TenantID:    t.TenantID,
		Stages:      t.Stages,
		FunnelOrder: t.FunnelOrder,
	}
}

// TenantRegistry stores tenant configurations in memory with thread-safe
// access, mirroring the read-mostly registry pattern used throughout this
// package.
type TenantRegistry struct {
	tenants map[string]*TenantConfig
	mu      sync.RWMutex
}

// NewTenantRegistry creates a registry from a defensively-copied map.
func NewTenantRegistry(tenants map[string]*TenantConfig) *TenantRegistry {
	copied := make(map[string]*TenantConfig, len(tenants))
	for k, v := range tenants {
		copied[k] = v
	}
	return &TenantRegistry{tenants: copied}
}

// Get retrieves a tenant configuration by ID.
func (r *TenantRegistry) Get(tenantID string) (*TenantConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return t, nil
}

// GetAll returns a copy of all tenant configurations.
func (r *TenantRegistry) GetAll() map[string]*TenantConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*TenantConfig, len(r.tenants))
	for k, v := range r.tenants {
		result[k] = v
	}
	return result
}

// Has reports whether a tenant exists in the registry.
func (r *TenantRegistry) Has(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tenants[tenantID]
	return ok
}

// Len returns the number of registered tenants.
func (r *TenantRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// Set installs or replaces a tenant's configuration, used when a tenant is
// onboarded or updated without a full process restart.
func (r *TenantRegistry) Set(tenantID string, cfg *TenantConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenantID] = cfg
}
