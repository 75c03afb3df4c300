package fatigue

import (
	"fmt"
	"math"
)

// Evaluation is the outcome of running every fatigue rule against one
// candidate: which rules fired and why.
type Evaluation struct {
	Severity int
	Reasons  []string
}

// Evaluate runs all four fatigue rules independently; combined severity
// is the count of rules that fired.
func Evaluate(c Candidate, t Thresholds) Evaluation {
	var eval Evaluation

	if reason, fired := ctrDecline(c, t); fired {
		eval.Severity++
		eval.Reasons = append(eval.Reasons, reason)
	}
	if reason, fired := saturation(c, t); fired {
		eval.Severity++
		eval.Reasons = append(eval.Reasons, reason)
	}
	if reason, fired := cpmSpike(c); fired {
		eval.Severity++
		eval.Reasons = append(eval.Reasons, reason)
	}
	if reason, fired := flatline(c, t); fired {
		eval.Severity++
		eval.Reasons = append(eval.Reasons, reason)
	}

	return eval
}

// lastNDays returns the last n entries of history (oldest-first),
// or all of it if shorter.
func lastNDays(history []DailyStats, n int) []DailyStats {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func sumImpressions(days []DailyStats) int64 {
	var sum int64
	for _, d := range days {
		sum += d.Impressions
	}
	return sum
}

func meanCTR(days []DailyStats) float64 {
	var impressions, clicks int64
	for _, d := range days {
		impressions += d.Impressions
		clicks += d.Clicks
	}
	if impressions == 0 {
		return 0
	}
	return float64(clicks) / float64(impressions)
}

// ctrDecline fires when the trailing 7-day mean CTR is below 70% of the
// prior 7-day mean, with both windows meeting the minimum impression
// floor.
func ctrDecline(c Candidate, t Thresholds) (string, bool) {
	if len(c.History) < 14 {
		return "", false
	}
	recent := lastNDays(c.History, 7)
	prior := c.History[len(c.History)-14 : len(c.History)-7]

	if sumImpressions(recent) < t.MinWindowImpressions || sumImpressions(prior) < t.MinWindowImpressions {
		return "", false
	}

	recentCTR := meanCTR(recent)
	priorCTR := meanCTR(prior)
	if priorCTR == 0 {
		return "", false
	}

	if recentCTR < 0.7*priorCTR {
		return fmtReason("ctr_decline", "recent 7-day CTR %.4f is below 70%% of prior 7-day CTR %.4f", recentCTR, priorCTR), true
	}
	return "", false
}

// saturation fires when cumulative impressions exceed the tenant's
// ceiling without proportional conversion growth: conversions per
// impression in the recent window trail the all-time rate.
func saturation(c Candidate, t Thresholds) (string, bool) {
	if c.CumulativeImpressions <= t.MaxImpressions {
		return "", false
	}
	if len(c.History) == 0 {
		return fmtReason("saturation", "cumulative impressions %d exceed ceiling %d", c.CumulativeImpressions, t.MaxImpressions), true
	}

	allTimeRate := conversionRate(c.CumulativeConversions, c.CumulativeImpressions)
	recent := lastNDays(c.History, 7)
	var recentImpressions, recentConversions int64
	for _, d := range recent {
		recentImpressions += d.Impressions
		recentConversions += d.Conversions
	}
	recentRate := conversionRate(recentConversions, recentImpressions)

	if recentRate < allTimeRate {
		return fmtReason("saturation", "cumulative impressions %d exceed ceiling %d with recent conversion rate %.6f below all-time rate %.6f",
			c.CumulativeImpressions, t.MaxImpressions, recentRate, allTimeRate), true
	}
	return "", false
}

func conversionRate(conversions, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(conversions) / float64(impressions)
}

// cpmSpike fires when the trailing 3-day CPM exceeds 1.5x the trailing
// 14-day CPM, confirmed by a one-sided Welch's t-test at p < 0.05.
func cpmSpike(c Candidate) (string, bool) {
	if len(c.History) < 14 {
		return "", false
	}
	recent := lastNDays(c.History, 3)
	baseline := lastNDays(c.History, 14)

	recentCPM := meanCPM(recent)
	baselineCPM := meanCPM(baseline)
	if baselineCPM == 0 || recentCPM < 1.5*baselineCPM {
		return "", false
	}

	t := welchTStatistic(cpmSamples(recent), cpmSamples(baseline))
	if oneSidedPValueApprox(t) < 0.05 {
		return fmtReason("cpm_spike", "3-day CPM %.2f exceeds 1.5x the 14-day CPM %.2f (t=%.2f)", recentCPM, baselineCPM, t), true
	}
	return "", false
}

func cpmSamples(days []DailyStats) []float64 {
	samples := make([]float64, 0, len(days))
	for _, d := range days {
		if d.Impressions > 0 {
			samples = append(samples, d.CPM())
		}
	}
	return samples
}

func meanCPM(days []DailyStats) float64 {
	samples := cpmSamples(days)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// welchTStatistic computes Welch's t-statistic for the difference in
// means between two independent samples of unequal variance.
func welchTStatistic(a, b []float64) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	meanA, varA := meanVariance(a)
	meanB, varB := meanVariance(b)

	se := math.Sqrt(varA/float64(len(a)) + varB/float64(len(b)))
	if se == 0 {
		return 0
	}
	return (meanA - meanB) / se
}

func meanVariance(samples []float64) (mean, variance float64) {
	n := float64(len(samples))
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean = sum / n

	var sqDiff float64
	for _, s := range samples {
		d := s - mean
		sqDiff += d * d
	}
	variance = sqDiff / (n - 1)
	return mean, variance
}

// oneSidedPValueApprox approximates the one-sided p-value for a t
// statistic using the standard normal approximation, adequate at the
// sample sizes (3 and 14 points) the CPM-spike rule evaluates.
func oneSidedPValueApprox(t float64) float64 {
	return 1 - standardNormalCDF(t)
}

func standardNormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// flatline fires when an ad has accumulated at least N impressions
// since its last conversion, with N cohort-scaled (passed in via
// Thresholds.FlatlineImpressions).
func flatline(c Candidate, t Thresholds) (string, bool) {
	var impressionsSinceLastConversion int64
	sawConversion := false

	for i := len(c.History) - 1; i >= 0; i-- {
		d := c.History[i]
		if d.Conversions > 0 {
			sawConversion = true
			break
		}
		impressionsSinceLastConversion += d.Impressions
	}

	if !sawConversion {
		impressionsSinceLastConversion = sumImpressions(c.History)
		// An ad with no conversion on record has gone its whole lifetime
		// without one, not just the loaded history window.
		if c.CumulativeConversions == 0 && c.CumulativeImpressions > impressionsSinceLastConversion {
			impressionsSinceLastConversion = c.CumulativeImpressions
		}
	}

	if impressionsSinceLastConversion >= t.FlatlineImpressions {
		return fmtReason("flatline", "%d impressions since last conversion, at or above threshold %d",
			impressionsSinceLastConversion, t.FlatlineImpressions), true
	}
	return "", false
}

func fmtReason(tag, format string, args ...any) string {
	return tag + ": " + fmt.Sprintf(format, args...)
}
