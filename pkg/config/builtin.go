package config

import (
	"sync"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// BuiltinConfig holds the built-in default tenant template, applied as the
// base that every user-defined tenant config is merged over.
type BuiltinConfig struct {
	DefaultTenant TenantConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazily initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		DefaultTenant: TenantConfig{
			Mode:                 ModeDirect,
			Stages:               initBuiltinStages(),
			FunnelOrder:          []string{"lead", "qualified", "demo", "proposal", "closed_won"},
			IgnoreZoneDaysDirect: 1,
			FatigueWindowHours:   72,
			WinnerCTRThreshold:   0.03,
			WinnerROASThreshold:  3.0,
			WinnerMinSpendCents:  20000,
			BaselineStrategy:     BaselineAccountMean,

			IgnoreZoneDays:          2,
			IgnoreZoneSpendCents:    10000,
			KillROASThreshold:       1.0,
			KillROASThresholdDirect: 1.0,
			ScaleROASThreshold:      2.0,
			KillConsecutiveEvals:    2,
			SoftmaxTemperature:      1.0,
			MaxStepPct:              0.2,

			FatigueMaxImpressions:       2000000,
			FatigueFlatlineImpressions:  50000,
			FatigueMinWindowImpressions: 10000,
			FatigueBudgetDecreasePct:    0.30,
			FatigueBudgetFloorCents:     500,

			MaxChangesPerHour: 15,
			MaxVelocityPct6h:  0.20,
			JitterMinSeconds:  3,
			JitterMaxSeconds:  18,
			BatchThreshold:    10,
			FuzzPct:           0.005,
		},
	}
}

// initBuiltinStages returns the default CRM funnel stage-value table,
// used by any tenant that does not override its own stages.
func initBuiltinStages() map[string]models.StageValue {
	return map[string]models.StageValue{
		"lead": {
			ValuePercentage: 0.02,
			Confidence:      0.5,
			Description:     "Raw inbound lead, no qualification yet",
		},
		"qualified": {
			ValuePercentage: 0.08,
			Confidence:      0.6,
			Description:     "Lead meets basic fit criteria",
		},
		"demo": {
			ValuePercentage: 0.20,
			Confidence:      0.7,
			Description:     "Prospect has seen a product demo",
		},
		"proposal": {
			ValuePercentage: 0.45,
			Confidence:      0.8,
			Description:     "Proposal or quote has been sent",
		},
		"closed_won": {
			ValuePercentage: 1.0,
			Confidence:      1.0,
			Description:     "Deal closed, revenue observed directly",
		},
	}
}
