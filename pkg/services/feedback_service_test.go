package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codeready-toolchain/adengine/pkg/attribution"
	"github.com/codeready-toolchain/adengine/pkg/cache"
	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/identity"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/codeready-toolchain/adengine/pkg/sampler"
	"github.com/codeready-toolchain/adengine/pkg/scorer"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttributionStore struct {
	fingerprintMatches map[string][]attribution.CandidateAd
	hasAttribution     bool
}

func (f *fakeAttributionStore) FingerprintMatches(ctx context.Context, tenantID, key string, since time.Time) ([]attribution.CandidateAd, error) {
	return f.fingerprintMatches[key], nil
}
func (f *fakeAttributionStore) IPMatches(ctx context.Context, tenantID, key string, since time.Time) ([]attribution.CandidateAd, error) {
	return nil, nil
}
func (f *fakeAttributionStore) RecentlyActiveAds(ctx context.Context, tenantID string, since time.Time) ([]attribution.CandidateAd, error) {
	return nil, nil
}
func (f *fakeAttributionStore) HasAttribution(ctx context.Context, dealID, stageTo string) (bool, error) {
	return f.hasAttribution, nil
}
func (f *fakeAttributionStore) RollingAverageDealValueCents(ctx context.Context, tenantID string, window time.Duration) (int64, bool, error) {
	return 0, false, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.AttributionRecord
}

func (f *fakeRecorder) SaveAttributionRecords(ctx context.Context, records []models.AttributionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

type fakeAdStateStore struct {
	mu               sync.Mutex
	syntheticDeltas  map[string]int64
	metricUpdateErrs map[string]error
	metricCalls      int
	posteriors       map[string][2]float64
}

func newFakeAdStateStore() *fakeAdStateStore {
	return &fakeAdStateStore{syntheticDeltas: make(map[string]int64), posteriors: make(map[string][2]float64)}
}

func (f *fakeAdStateStore) GetPosterior(ctx context.Context, adID string) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posteriors[adID]
	if !ok {
		return 1, 1, nil
	}
	return p[0], p[1], nil
}

func (f *fakeAdStateStore) SetPosterior(ctx context.Context, adID string, alpha, beta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posteriors[adID] = [2]float64{alpha, beta}
	return nil
}

func (f *fakeAdStateStore) ApplyMetricDeltas(ctx context.Context, adID string, impressionsDelta, clicksDelta, spendDeltaCents int64, observedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metricCalls++
	return f.metricUpdateErrs[adID]
}

func (f *fakeAdStateStore) ApplyDailyStats(ctx context.Context, adID string, day time.Time, impressionsDelta, clicksDelta, spendDeltaCents int64) error {
	return nil
}

func (f *fakeAdStateStore) AddSyntheticRevenue(ctx context.Context, adID string, deltaCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syntheticDeltas[adID] += deltaCents
	return nil
}

func newTestAdLock(t *testing.T) *cache.AdLock {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewAdLock(client, 10*time.Second)
}

func testFeedbackTenants() *config.TenantRegistry {
	return config.NewTenantRegistry(map[string]*config.TenantConfig{
		"acme": {
			TenantID: "acme",
			Stages: map[string]models.StageValue{
				"lead":       {ValuePercentage: 0.1},
				"qualified":  {ValuePercentage: 0.3},
				"closed_won": {ValuePercentage: 1.0},
			},
			FunnelOrder: []string{"lead", "qualified", "closed_won"},
		},
	})
}

func TestFeedbackService_IngestStageChange_AppliesSyntheticRevenue(t *testing.T) {
	store := &fakeAttributionStore{
		fingerprintMatches: map[string][]attribution.CandidateAd{},
	}
	hasher := identity.NewHasher("salt")
	store.fingerprintMatches[hasher.FingerprintKey("fp-1")] = []attribution.CandidateAd{
		{AdID: "ad-1", AccountID: "acct-1", SeenAt: time.Now()},
	}
	attributor := attribution.New(testFeedbackTenants(), store, hasher)
	recorder := &fakeRecorder{}
	adStates := newFakeAdStateStore()
	lock := newTestAdLock(t)

	svc := NewFeedbackService(attributor, recorder, adStates, lock, sampler.NewAllocator(), scorer.New())
	eventID, err := svc.IngestStageChange(context.Background(), StageChangeInput{
		TenantID:            "acme",
		DealID:              "deal-1",
		StageTo:             "qualified",
		Timestamp:           time.Now(),
		IdentityFingerprint: "fp-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, eventID)
	assert.NotEmpty(t, recorder.records)
	assert.Greater(t, adStates.syntheticDeltas["ad-1"], int64(0))
}

func TestFeedbackService_IngestStageChange_RequiresDealID(t *testing.T) {
	attributor := attribution.New(testFeedbackTenants(), &fakeAttributionStore{}, identity.NewHasher("salt"))
	svc := NewFeedbackService(attributor, &fakeRecorder{}, newFakeAdStateStore(), newTestAdLock(t), sampler.NewAllocator(), scorer.New())

	_, err := svc.IngestStageChange(context.Background(), StageChangeInput{TenantID: "acme", StageTo: "lead"})
	assert.True(t, IsValidationError(err))
}

func TestFeedbackService_IngestMetricUpdates_RejectsNegativeDeltas(t *testing.T) {
	attributor := attribution.New(testFeedbackTenants(), &fakeAttributionStore{}, identity.NewHasher("salt"))
	adStates := newFakeAdStateStore()
	svc := NewFeedbackService(attributor, &fakeRecorder{}, adStates, newTestAdLock(t), sampler.NewAllocator(), scorer.New())

	err := svc.IngestMetricUpdates(context.Background(), []MetricUpdate{
		{AdID: "ad-1", ImpressionsDelta: -5},
	})
	assert.True(t, IsValidationError(err))
	assert.Equal(t, 0, adStates.metricCalls)
}

func TestFeedbackService_IngestMetricUpdates_AppliesEachUnderLock(t *testing.T) {
	attributor := attribution.New(testFeedbackTenants(), &fakeAttributionStore{}, identity.NewHasher("salt"))
	adStates := newFakeAdStateStore()
	svc := NewFeedbackService(attributor, &fakeRecorder{}, adStates, newTestAdLock(t), sampler.NewAllocator(), scorer.New())

	err := svc.IngestMetricUpdates(context.Background(), []MetricUpdate{
		{AdID: "ad-1", ImpressionsDelta: 1000, ClicksDelta: 20, SpendDeltaCents: 500, ObservedAt: time.Now()},
		{AdID: "ad-2", ImpressionsDelta: 500, ClicksDelta: 5, SpendDeltaCents: 200, ObservedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, adStates.metricCalls)
}
