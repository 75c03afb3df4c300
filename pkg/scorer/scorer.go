// Package scorer produces a single blended-value score per ad, combining
// an early-life CTR signal with a late-life pipeline-ROAS signal under a
// time-weighted blend, a fatigue decay, and an externally supplied
// DNA-similarity boost. Scores are memoized in a TTL'd cache keyed by a
// bucketed fingerprint of the ad's state so repeated evaluations within a
// scheduling cycle don't recompute identical scores. The cache has no size
// limit: entries leave it only on TTL expiry or InvalidateAd.
package scorer

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/patrickmn/go-cache"
)

const epsilon = 1e-9

// defaultFatigueGamma is the tenant-tunable fatigue decay rate's default.
const defaultFatigueGamma = 0.3

const cacheTTL = 30 * time.Minute
const cacheCleanupInterval = 10 * time.Minute

// CohortStats are the account-cohort normalization baselines the scorer
// divides raw CTR/ROAS by. A zero-value mean is treated as "no cohort
// data yet" and normalization is skipped (raw value passes through).
type CohortStats struct {
	MeanCTR  float64
	MeanROAS float64
}

// Context carries the per-evaluation inputs that aren't part of the
// ad's own durable state: cohort baselines, the tenant's fatigue decay
// rate, and any externally computed DNA-similarity boost.
type Context struct {
	Cohort CohortStats

	// FatigueGamma is the tenant-tunable fatigue decay rate. Zero means
	// "use the default" (0.3).
	FatigueGamma float64

	// DNABoost is a multiplier in [1.0, 1.2] supplied by the winner
	// index; 0 means absent and is treated as 1.0 (no boost).
	DNABoost float64
}

// Components is the breakdown behind a Score's Value, returned so
// upstream explanations don't need to replay the computation.
type Components struct {
	CTRWeight    float64
	CTRScore     float64
	ROASScore    float64
	FatigueDecay float64
	DNABoost     float64
}

// Score is the scorer's output for one ad at one point in time.
type Score struct {
	Value       float64
	Components  Components
	Explanation string
}

// Scorer computes blended scores and memoizes them in a TTL'd cache,
// invalidated per-ad on feedback ingest. The cache is not size-bounded
// and evicts nothing by recency.
type Scorer struct {
	cache *cache.Cache

	mu     sync.Mutex
	adKeys map[string]map[string]struct{}
}

// New creates a Scorer with the default 30-minute cache TTL.
func New() *Scorer {
	return &Scorer{
		cache:  cache.New(cacheTTL, cacheCleanupInterval),
		adKeys: make(map[string]map[string]struct{}),
	}
}

// Score returns the blended value for state, computing and caching it if
// no live cache entry exists for the bucketed key.
func (s *Scorer) Score(state *models.AdState, ctx Context) Score {
	key := cacheKey(state)

	if cached, ok := s.cache.Get(key); ok {
		return cached.(Score)
	}

	score := compute(state, ctx)
	s.cache.Set(key, score, cache.DefaultExpiration)
	s.trackKey(state.AdID, key)
	return score
}

// InvalidateAd evicts every cached score for adID. Called on feedback
// ingest, since new impressions/clicks/revenue invalidate every bucket
// the ad was previously scored under.
func (s *Scorer) InvalidateAd(adID string) {
	s.mu.Lock()
	keys := s.adKeys[adID]
	delete(s.adKeys, adID)
	s.mu.Unlock()

	for key := range keys {
		s.cache.Delete(key)
	}
}

func (s *Scorer) trackKey(adID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.adKeys[adID]
	if !ok {
		set = make(map[string]struct{})
		s.adKeys[adID] = set
	}
	set[key] = struct{}{}
}

// cacheKey buckets the ad's state into coarse ranges so that small,
// inconsequential changes in impressions/spend/age don't force a
// recompute: (ad_id, impressions/100, ctr*100 rounded, spend/10 bucket,
// age_hours/6 bucket).
func cacheKey(state *models.AdState) string {
	impressionsBucket := state.Impressions / 100
	ctrBucket := math.Round(state.CTR() * 100)
	spendBucket := state.SpendCents / 10
	ageBucket := int64(state.AgeHours / 6)
	return fmt.Sprintf("%s:%d:%.0f:%d:%d", state.AdID, impressionsBucket, ctrBucket, spendBucket, ageBucket)
}

func compute(state *models.AdState, evalCtx Context) Score {
	if math.IsNaN(state.AgeHours) || math.IsNaN(state.CTR()) || math.IsNaN(state.PipelineROAS()) {
		slog.Warn("scorer received NaN input, short-circuiting to zero", "ad_id", state.AdID)
		return Score{Explanation: "NaN input short-circuited to 0"}
	}

	gamma := evalCtx.FatigueGamma
	if gamma == 0 {
		gamma = defaultFatigueGamma
	}

	ctrWeight := ctrWeight(state.AgeHours)

	ctrScore := normalize(state.CTR(), evalCtx.Cohort.MeanCTR)
	roasScore := normalize(state.PipelineROAS(), evalCtx.Cohort.MeanROAS)

	base := ctrWeight*ctrScore + (1-ctrWeight)*roasScore

	fatigueDecay := math.Exp(-gamma * float64(state.Impressions) / 1e5)

	dnaBoost := evalCtx.DNABoost
	if dnaBoost == 0 {
		dnaBoost = 1.0
	}

	value := base * fatigueDecay * dnaBoost
	if value < 0 {
		value = 0
	}

	components := Components{
		CTRWeight:    ctrWeight,
		CTRScore:     ctrScore,
		ROASScore:    roasScore,
		FatigueDecay: fatigueDecay,
		DNABoost:     dnaBoost,
	}

	return Score{
		Value:      value,
		Components: components,
		Explanation: fmt.Sprintf(
			"ctr_weight=%.2f ctr_score=%.4f roas_score=%.4f fatigue_decay=%.4f dna_boost=%.2f",
			ctrWeight, ctrScore, roasScore, fatigueDecay, dnaBoost),
	}
}

// ctrWeight implements the piecewise age-based weighting that favors
// early-click signal over late-pipeline signal as an ad ages.
func ctrWeight(ageHours float64) float64 {
	switch {
	case ageHours < 6:
		return 1.0
	case ageHours < 24:
		return lerp(1.0, 0.7, (ageHours-6)/(24-6))
	case ageHours < 72:
		return lerp(0.7, 0.3, (ageHours-24)/(72-24))
	default:
		return math.Max(0.1, 0.3*math.Exp(-0.1*(ageHours-72)/24))
	}
}

func lerp(from, to, fraction float64) float64 {
	return from + (to-from)*fraction
}

// normalize divides raw against its cohort mean, so 1.0 means "on par
// with the account cohort". A zero or unset cohort mean means there's no
// baseline yet, and the raw value passes through unnormalized.
func normalize(raw, cohortMean float64) float64 {
	if cohortMean <= epsilon {
		return raw
	}
	return raw / math.Max(cohortMean, epsilon)
}
