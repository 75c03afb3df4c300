package scorer

import (
	"math"
	"testing"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/stretchr/testify/assert"
)

func newState(adID string, impressions, clicks int64, spendCents, revenueCents int64, ageHours float64) *models.AdState {
	return &models.AdState{
		AdID:                  adID,
		Impressions:           impressions,
		Clicks:                clicks,
		SpendCents:            spendCents,
		SyntheticRevenueCents: revenueCents,
		AgeHours:              ageHours,
		Alpha:                1,
		Beta:                 1,
	}
}

func TestCTRWeight_Boundaries(t *testing.T) {
	assert.Equal(t, 1.0, ctrWeight(0))
	assert.Equal(t, 1.0, ctrWeight(5.99))
	assert.InDelta(t, 1.0, ctrWeight(6), 1e-9)
	assert.InDelta(t, 0.7, ctrWeight(24), 1e-9)
	assert.InDelta(t, 0.3, ctrWeight(72), 1e-9)
	assert.Less(t, ctrWeight(96), 0.3)
	assert.GreaterOrEqual(t, ctrWeight(10000), 0.1)
}

func TestScore_NonNegativeAndBounded(t *testing.T) {
	s := New()
	state := newState("ad-1", 1000, 50, 5000, 20000, 12)
	score := s.Score(state, Context{})
	assert.GreaterOrEqual(t, score.Value, 0.0)
}

func TestScore_NaNShortCircuitsToZero(t *testing.T) {
	s := New()
	state := newState("ad-nan", 0, 0, 0, 0, math.NaN())
	score := s.Score(state, Context{})
	assert.Equal(t, 0.0, score.Value)
}

func TestScore_FatigueDecayReducesScoreAtHighImpressions(t *testing.T) {
	s := New()
	low := newState("ad-low", 1000, 50, 5000, 20000, 12)
	high := newState("ad-high", 500000, 50, 5000, 20000, 12)

	lowScore := s.Score(low, Context{})
	highScore := s.Score(high, Context{})

	assert.Less(t, highScore.Components.FatigueDecay, lowScore.Components.FatigueDecay)
}

func TestScore_DNABoostIncreasesValue(t *testing.T) {
	s := New()
	state := newState("ad-boost", 1000, 50, 5000, 20000, 12)

	withoutBoost := s.Score(state, Context{})
	s.InvalidateAd("ad-boost")
	withBoost := s.Score(state, Context{DNABoost: 1.2})

	assert.Greater(t, withBoost.Value, withoutBoost.Value)
}

func TestScore_IsMemoizedUntilInvalidated(t *testing.T) {
	s := New()
	state := newState("ad-memo", 1000, 50, 5000, 20000, 12)

	first := s.Score(state, Context{})

	// Mutate state in a way the bucketed key wouldn't catch (tiny spend
	// delta within the same /10 bucket) to prove the cached value, not a
	// recompute, is returned.
	state.SpendCents++
	second := s.Score(state, Context{})
	assert.Equal(t, first, second)

	s.InvalidateAd("ad-memo")
	state.Impressions += 100000
	third := s.Score(state, Context{})
	assert.NotEqual(t, first.Value, third.Value)
}

func TestNormalize_NoCohortBaselinePassesThroughRaw(t *testing.T) {
	assert.Equal(t, 0.5, normalize(0.5, 0))
}

func TestNormalize_AboveCohortMeanExceedsOne(t *testing.T) {
	assert.Greater(t, normalize(0.1, 0.05), 1.0)
}
