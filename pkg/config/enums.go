package config

// Mode selects how a tenant attributes CRM pipeline value back to ads.
type Mode string

const (
	// ModeDirect attributes stage value directly against observed clicks,
	// subject to the ignorance zone for very young ads.
	ModeDirect Mode = "direct"
	// ModePipeline attributes stage value through the full CRM funnel,
	// blending observed and synthetic revenue.
	ModePipeline Mode = "pipeline"
)

// IsValid reports whether m is a known attribution mode.
func (m Mode) IsValid() bool {
	return m == ModeDirect || m == ModePipeline
}

// BaselineStrategy selects how the scorer computes a cohort baseline for
// blending an individual ad's score with its peers'.
type BaselineStrategy string

const (
	// BaselineAccountMean uses the mean score across all active ads in
	// the same account as the cohort baseline.
	BaselineAccountMean BaselineStrategy = "account_mean"
)

// IsValid reports whether s is a known baseline strategy.
func (s BaselineStrategy) IsValid() bool {
	return s == BaselineAccountMean
}
