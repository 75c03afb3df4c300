package fatigue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dayRange(start time.Time, n int, impressions, clicks, conversions, spendCents int64) []DailyStats {
	days := make([]DailyStats, n)
	for i := 0; i < n; i++ {
		days[i] = DailyStats{
			Date:        start.AddDate(0, 0, i),
			Impressions: impressions,
			Clicks:      clicks,
			Conversions: conversions,
			SpendCents:  spendCents,
		}
	}
	return days
}

func TestCTRDecline_FiresWhenRecentWeekHalvesCTR(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 7, 2000, 100, 0, 10000)    // CTR 0.05
	recent := dayRange(start.AddDate(0, 0, 7), 7, 2000, 25, 0, 10000) // CTR 0.0125 (< 70% of 0.05)

	c := Candidate{History: append(prior, recent...)}
	reason, fired := ctrDecline(c, DefaultThresholds())
	assert.True(t, fired)
	assert.Contains(t, reason, "ctr_decline")
}

func TestCTRDecline_DoesNotFireBelowMinImpressions(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 7, 100, 5, 0, 100)
	recent := dayRange(start.AddDate(0, 0, 7), 7, 100, 1, 0, 100)

	c := Candidate{History: append(prior, recent...)}
	_, fired := ctrDecline(c, DefaultThresholds())
	assert.False(t, fired)
}

func TestSaturation_FiresAboveCeilingWithDecliningConversionRate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := dayRange(start, 7, 500000, 0, 0, 100000) // zero recent conversions
	c := Candidate{
		History:               history,
		CumulativeImpressions: 3000000,
		CumulativeConversions: 300,
	}
	reason, fired := saturation(c, DefaultThresholds())
	assert.True(t, fired)
	assert.Contains(t, reason, "saturation")
}

func TestSaturation_DoesNotFireBelowCeiling(t *testing.T) {
	c := Candidate{CumulativeImpressions: 1000, CumulativeConversions: 10}
	_, fired := saturation(c, DefaultThresholds())
	assert.False(t, fired)
}

func TestCPMSpike_FiresOnSignificantIncrease(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	baseline := dayRange(start, 11, 10000, 100, 5, 5000) // CPM = 500
	spike := dayRange(start.AddDate(0, 0, 11), 3, 10000, 100, 5, 20000) // CPM = 2000

	c := Candidate{History: append(baseline, spike...)}
	reason, fired := cpmSpike(c)
	assert.True(t, fired)
	assert.Contains(t, reason, "cpm_spike")
}

func TestCPMSpike_DoesNotFireWithoutIncrease(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Candidate{History: dayRange(start, 14, 10000, 100, 5, 5000)}
	_, fired := cpmSpike(c)
	assert.False(t, fired)
}

func TestFlatline_FiresAfterImpressionsSinceLastConversion(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []DailyStats{
		{Date: start, Impressions: 1000, Conversions: 1},
	}
	history = append(history, dayRange(start.AddDate(0, 0, 1), 10, 10000, 50, 0, 5000)...)

	c := Candidate{History: history}
	reason, fired := flatline(c, DefaultThresholds())
	assert.True(t, fired)
	assert.Contains(t, reason, "flatline")
}

func TestFlatline_DoesNotFireBelowThreshold(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Candidate{History: dayRange(start, 3, 100, 10, 1, 50)}
	_, fired := flatline(c, DefaultThresholds())
	assert.False(t, fired)
}

func TestEvaluate_CombinedSeverityCountsIndependentFires(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 7, 2000, 100, 0, 10000)
	recent := dayRange(start.AddDate(0, 0, 7), 7, 2000, 25, 0, 10000)
	history := append(prior, recent...)

	c := Candidate{
		History:               history,
		CumulativeImpressions: 3000000,
		CumulativeConversions: 0,
	}
	eval := Evaluate(c, DefaultThresholds())
	assert.GreaterOrEqual(t, eval.Severity, 2)
}
