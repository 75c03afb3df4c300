package config

// mergeTenants merges the built-in default tenant template against
// user-defined per-tenant configuration. User-defined fields win; unset
// fields fall back to the built-in template.
func mergeTenants(builtin TenantConfig, userTenants map[string]TenantConfig) map[string]*TenantConfig {
	result := make(map[string]*TenantConfig, len(userTenants))

	for id, user := range userTenants {
		merged := builtin
		merged.TenantID = id

		if user.Mode != "" {
			merged.Mode = user.Mode
		}
		if user.Stages != nil {
			merged.Stages = user.Stages
		}
		if user.FunnelOrder != nil {
			merged.FunnelOrder = user.FunnelOrder
		}
		if user.IgnoreZoneDaysDirect != 0 {
			merged.IgnoreZoneDaysDirect = user.IgnoreZoneDaysDirect
		}
		if user.FatigueWindowHours != 0 {
			merged.FatigueWindowHours = user.FatigueWindowHours
		}
		if user.WinnerCTRThreshold != 0 {
			merged.WinnerCTRThreshold = user.WinnerCTRThreshold
		}
		if user.WinnerROASThreshold != 0 {
			merged.WinnerROASThreshold = user.WinnerROASThreshold
		}
		if user.WinnerMinSpendCents != 0 {
			merged.WinnerMinSpendCents = user.WinnerMinSpendCents
		}
		if user.BaselineStrategy != "" {
			merged.BaselineStrategy = user.BaselineStrategy
		}
		if user.IgnoreZoneDays != 0 {
			merged.IgnoreZoneDays = user.IgnoreZoneDays
		}
		if user.IgnoreZoneSpendCents != 0 {
			merged.IgnoreZoneSpendCents = user.IgnoreZoneSpendCents
		}
		if user.KillROASThreshold != 0 {
			merged.KillROASThreshold = user.KillROASThreshold
		}
		if user.KillROASThresholdDirect != 0 {
			merged.KillROASThresholdDirect = user.KillROASThresholdDirect
		}
		if user.ScaleROASThreshold != 0 {
			merged.ScaleROASThreshold = user.ScaleROASThreshold
		}
		if user.KillConsecutiveEvals != 0 {
			merged.KillConsecutiveEvals = user.KillConsecutiveEvals
		}
		if user.SoftmaxTemperature != 0 {
			merged.SoftmaxTemperature = user.SoftmaxTemperature
		}
		if user.MaxStepPct != 0 {
			merged.MaxStepPct = user.MaxStepPct
		}
		if user.BlendedDecayGamma != 0 {
			merged.BlendedDecayGamma = user.BlendedDecayGamma
		}
		if user.FatigueMaxImpressions != 0 {
			merged.FatigueMaxImpressions = user.FatigueMaxImpressions
		}
		if user.FatigueFlatlineImpressions != 0 {
			merged.FatigueFlatlineImpressions = user.FatigueFlatlineImpressions
		}
		if user.FatigueMinWindowImpressions != 0 {
			merged.FatigueMinWindowImpressions = user.FatigueMinWindowImpressions
		}
		if user.FatigueBudgetDecreasePct != 0 {
			merged.FatigueBudgetDecreasePct = user.FatigueBudgetDecreasePct
		}
		if user.FatigueBudgetFloorCents != 0 {
			merged.FatigueBudgetFloorCents = user.FatigueBudgetFloorCents
		}
		if user.MaxChangesPerHour != 0 {
			merged.MaxChangesPerHour = user.MaxChangesPerHour
		}
		if user.MaxVelocityPct6h != 0 {
			merged.MaxVelocityPct6h = user.MaxVelocityPct6h
		}
		if user.JitterMinSeconds != 0 {
			merged.JitterMinSeconds = user.JitterMinSeconds
		}
		if user.JitterMaxSeconds != 0 {
			merged.JitterMaxSeconds = user.JitterMaxSeconds
		}
		if user.BatchThreshold != 0 {
			merged.BatchThreshold = user.BatchThreshold
		}
		if user.FuzzPct != 0 {
			merged.FuzzPct = user.FuzzPct
		}

		copied := merged
		result[id] = &copied
	}

	return result
}
