package models

import "log/slog"

// StageValue is a single CRM stage's contribution to synthetic revenue.
type StageValue struct {
	ValuePercentage float64 `yaml:"value_percentage" validate:"gte=0,lte=1"`
	Confidence      float64 `yaml:"confidence" validate:"gte=0,lte=1"`
	Description     string  `yaml:"description,omitempty"`
}

// StageConfig is a tenant's CRM stage name -> value mapping, plus the
// canonical funnel order used to detect non-monotonic configuration.
type StageConfig struct {
	TenantID    string
	Stages      map[string]StageValue
	FunnelOrder []string
}

// Value returns the configured value for a stage name.
func (c *StageConfig) Value(stage string) (StageValue, bool) {
	v, ok := c.Stages[stage]
	return v, ok
}

// CheckMonotonic logs (but does not reject) any pair of adjacent funnel
// stages whose configured value decreases, per the StageConfig invariant
// that stage value is non-decreasing along the canonical funnel order.
func (c *StageConfig) CheckMonotonic() {
	for i := 1; i < len(c.FunnelOrder); i++ {
		prevName, curName := c.FunnelOrder[i-1], c.FunnelOrder[i]
		prev, okPrev := c.Stages[prevName]
		cur, okCur := c.Stages[curName]
		if !okPrev || !okCur {
			continue
		}
		if cur.ValuePercentage < prev.ValuePercentage {
			slog.Warn("stage config violates monotonic funnel order",
				"tenant_id", c.TenantID,
				"stage", curName,
				"value", cur.ValuePercentage,
				"previous_stage", prevName,
				"previous_value", prev.ValuePercentage)
		}
	}
}
