package config

// Defaults contains system-wide default values applied when a tenant does
// not override them.
type Defaults struct {
	// Mode is the attribution mode used when a tenant does not specify one.
	Mode Mode `yaml:"mode,omitempty"`

	// IgnoreZoneDaysDirect is the ignorance-zone age in direct mode: an ad
	// younger than this whose spend is also below the ignorance-zone spend
	// floor has its budget held. Such an ad is still scored.
	IgnoreZoneDaysDirect float64 `yaml:"ignore_zone_days_direct,omitempty" validate:"omitempty,gte=0"`

	// FatigueWindowHours is loaded, defaulted and merged per tenant. The
	// fatigue detector does not read it; its rules use fixed 3-, 7- and
	// 14-day windows.
	FatigueWindowHours float64 `yaml:"fatigue_window_hours,omitempty" validate:"omitempty,gt=0"`

	// WinnerCTRThreshold and WinnerROASThreshold gate winner-pattern
	// indexing (τ_ctr_winner, τ_roas_winner).
	WinnerCTRThreshold  float64 `yaml:"winner_ctr_threshold,omitempty" validate:"omitempty,gte=0"`
	WinnerROASThreshold float64 `yaml:"winner_roas_threshold,omitempty" validate:"omitempty,gte=0"`

	// WinnerMinSpendCents is the minimum spend (S_min) an ad must have
	// accrued before it is eligible for winner-pattern indexing.
	WinnerMinSpendCents int64 `yaml:"winner_min_spend_cents,omitempty" validate:"omitempty,gte=0"`

	// BaselineStrategy selects the cohort baseline used to blend an ad's
	// score against its peers.
	BaselineStrategy BaselineStrategy `yaml:"baseline_strategy,omitempty"`
}
