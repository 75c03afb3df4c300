package sampler

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Mode mirrors config.Mode without importing pkg/config, so this package
// stays free of a dependency on the configuration loader.
type Mode string

// Allocation modes.
const (
	ModeDirect   Mode = "direct"
	ModePipeline Mode = "pipeline"
)

// Allocator runs the Thompson-sampling decision and softmax budget split
// for one tenant's ad set, and owns the per-ad locks feedback updates
// take.
type Allocator struct {
	mu      sync.Mutex
	adLocks map[string]*sync.Mutex
}

// NewAllocator creates an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{adLocks: make(map[string]*sync.Mutex)}
}

func (a *Allocator) lockFor(adID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.adLocks[adID]
	if !ok {
		l = &sync.Mutex{}
		a.adLocks[adID] = l
	}
	return l
}

// Allocate produces a Recommendation per ad: an ignorance-zone hold for
// young, low-spend ads, a kill/scale/hold/reduce decision for the rest,
// and a softmax budget split over non-killed ads capped at MaxStepPct
// movement per cycle.
func (a *Allocator) Allocate(ads []AdInput, totalBudgetCents int64, mode Mode, thresholds Thresholds, rng func(adID string) (uint64, uint64)) []Recommendation {
	recs := make([]Recommendation, len(ads))
	utilities := make([]float64, len(ads))
	draws := make([]float64, len(ads))
	ignoranceZone := make([]bool, len(ads))
	killed := make([]bool, len(ads))

	ignoreZoneDays := thresholds.IgnoreZoneDays
	if mode == ModeDirect {
		ignoreZoneDays = thresholds.IgnoreZoneDaysDirect
	}

	for i, ad := range ads {
		seed1, seed2 := rng(ad.AdID)
		draws[i] = SampleBeta(NewRNG(seed1, seed2), math.Max(ad.Alpha, 1), math.Max(ad.Beta, 1))
		utilities[i] = draws[i] * ad.Score
		ignoranceZone[i] = ad.AgeDays < ignoreZoneDays && ad.SpendCents < thresholds.IgnoreZoneSpendCents
	}

	// Scale requires not just a high ROAS but a Thompson draw/utility in
	// the batch's top quartile, so the cutoff is computed
	// once over the whole cycle before any per-ad decision is made.
	scaleCutoff := topQuartile(utilities)

	for i, ad := range ads {
		components := Components{
			ThompsonDraw:    draws[i],
			Score:           ad.Score,
			UtilityU:        utilities[i],
			ConsecutiveLows: ad.ConsecutiveLowROASEvals,
			IgnoranceZone:   ignoranceZone[i],
		}

		if ignoranceZone[i] {
			recs[i] = Recommendation{
				AdID:              ad.AdID,
				RecommendedBudget: capStep(ad.CurrentBudgetCents, ad.CurrentBudgetCents, thresholds.MaxStepPct),
				Confidence:        0,
				Action:            ActionHold,
				Reason:            fmt.Sprintf("ignorance zone: age_days=%.1f spend_cents=%d", ad.AgeDays, ad.SpendCents),
				Components:        components,
			}
			utilities[i] = 0
			continue
		}

		action, reason := decideAction(ad, mode, thresholds, utilities[i], scaleCutoff)
		killed[i] = action == ActionKill
		if killed[i] {
			utilities[i] = 0
		}

		confidence := confidenceFor(ad, action, mode, thresholds)

		recs[i] = Recommendation{
			AdID:       ad.AdID,
			Confidence: confidence,
			Action:     action,
			Reason:     reason,
			Components: components,
		}
	}

	shares := softmax(utilities, thresholds.SoftmaxTemperature)
	for i := range recs {
		if killed[i] {
			recs[i].RecommendedBudget = 0
			continue
		}
		target := int64(math.Round(shares[i] * float64(totalBudgetCents)))
		recs[i].RecommendedBudget = capStep(ads[i].CurrentBudgetCents, target, thresholds.MaxStepPct)
	}

	return recs
}

// decideAction applies the kill/scale/hold/reduce rules.
// utility and scaleCutoff gate the scale action on this cycle's batch:
// an ad only scales when its ROAS clears the threshold AND its
// Thompson-draw utility is in the top quartile of the batch.
func decideAction(ad AdInput, mode Mode, t Thresholds, utility, scaleCutoff float64) (Action, string) {
	killThreshold := t.KillROASThreshold
	if mode == ModeDirect {
		killThreshold = t.KillROASThresholdDirect
	}

	switch {
	case mode == ModePipeline && ad.AgeDays >= t.IgnoreZoneDays &&
		ad.PipelineROAS < t.KillROASThreshold && ad.ConsecutiveLowROASEvals >= t.KillConsecutiveEvals:
		return ActionKill, fmt.Sprintf(
			"pipeline ROAS %.2f below kill threshold %.2f for %d consecutive evaluations",
			ad.PipelineROAS, t.KillROASThreshold, ad.ConsecutiveLowROASEvals)
	case mode == ModeDirect && ad.PipelineROAS < t.KillROASThresholdDirect:
		return ActionKill, fmt.Sprintf("direct ROAS %.2f below kill threshold %.2f", ad.PipelineROAS, killThreshold)
	case ad.PipelineROAS > t.ScaleROASThreshold && utility >= scaleCutoff:
		return ActionScale, fmt.Sprintf(
			"pipeline ROAS %.2f above scale threshold %.2f with utility %.4f in top quartile (>= %.4f)",
			ad.PipelineROAS, t.ScaleROASThreshold, utility, scaleCutoff)
	case ad.PipelineROAS > t.ScaleROASThreshold:
		return ActionHold, fmt.Sprintf(
			"pipeline ROAS %.2f above scale threshold %.2f but utility %.4f outside top quartile (< %.4f)",
			ad.PipelineROAS, t.ScaleROASThreshold, utility, scaleCutoff)
	case ad.PipelineROAS < t.KillROASThreshold:
		return ActionReduce, fmt.Sprintf("pipeline ROAS %.2f below kill threshold %.2f but under consecutive-eval count", ad.PipelineROAS, t.KillROASThreshold)
	default:
		return ActionHold, fmt.Sprintf("pipeline ROAS %.2f within normal band", ad.PipelineROAS)
	}
}

// topQuartile returns the utility value at the batch's 75th percentile,
// the cutoff an ad's utility must clear to count as "top quartile" for
// the scale gate.
func topQuartile(utilities []float64) float64 {
	if len(utilities) == 0 {
		return 0
	}
	sorted := append([]float64(nil), utilities...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.75*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// confidenceFor is the posterior probability mass above the decision
// threshold relevant to the action taken.
func confidenceFor(ad AdInput, action Action, mode Mode, t Thresholds) float64 {
	var threshold float64
	switch action {
	case ActionScale:
		threshold = t.ScaleROASThreshold
	case ActionKill:
		if mode == ModeDirect {
			threshold = t.KillROASThresholdDirect
		} else {
			threshold = t.KillROASThreshold
		}
	default:
		threshold = t.KillROASThreshold
	}
	// The posterior (alpha, beta) models a CTR-like rate in [0,1]; ROAS
	// thresholds are expressed on a different scale, so we compare
	// against the threshold normalized into posterior units by capping
	// it to [0,1]. A tenant whose thresholds are already in that range
	// (e.g. expressed as a fraction) gets an exact reading; otherwise
	// this is a conservative upper-bound confidence.
	normalized := threshold
	if normalized > 1 {
		normalized = 1
	}
	if action == ActionScale {
		return ProbabilityAboveThreshold(ad.Alpha, ad.Beta, normalized)
	}
	return 1 - ProbabilityAboveThreshold(ad.Alpha, ad.Beta, normalized)
}

// softmax computes softmax(utilities/temperature), with killed ads
// already zeroed out by the caller (their utility becomes 0, but they
// still receive a share unless the caller wants exactly 0 — Allocate
// zeroes killed budgets explicitly after this call).
func softmax(utilities []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1.0
	}
	if len(utilities) == 0 {
		return nil
	}

	maxU := utilities[0]
	for _, u := range utilities {
		if u > maxU {
			maxU = u
		}
	}

	exps := make([]float64, len(utilities))
	var sum float64
	for i, u := range utilities {
		exps[i] = math.Exp((u - maxU) / temperature)
		sum += exps[i]
	}
	if sum == 0 {
		even := 1.0 / float64(len(utilities))
		for i := range exps {
			exps[i] = even
		}
		return exps
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// capStep clamps target so it moves from current by at most maxStepPct.
func capStep(currentCents, targetCents int64, maxStepPct float64) int64 {
	if maxStepPct <= 0 {
		maxStepPct = 1
	}
	if currentCents == 0 {
		return targetCents
	}
	maxDelta := int64(math.Abs(float64(currentCents)) * maxStepPct)
	delta := targetCents - currentCents
	if delta > maxDelta {
		delta = maxDelta
	}
	if delta < -maxDelta {
		delta = -maxDelta
	}
	return currentCents + delta
}

// RegisterFeedback applies a success- or failure-like outcome to the
// ad's Beta posterior under a per-ad lock, so concurrent feedback
// ingestion for the same ad serializes. weight scales with the
// confidence tier of the originating signal.
func (a *Allocator) RegisterFeedback(adID string, alpha, beta *float64, outcome FeedbackOutcome, weight float64) {
	lock := a.lockFor(adID)
	lock.Lock()
	defer lock.Unlock()

	switch outcome {
	case OutcomeSuccess:
		*alpha += weight
	case OutcomeFailure:
		*beta += weight
	}
}
