package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/identity"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	fingerprintMatches map[string][]CandidateAd
	ipMatches          map[string][]CandidateAd
	recentlyActive     []CandidateAd
	hasAttribution     bool
	rollingAvgCents    int64
	rollingAvgOK       bool

	fingerprintSince time.Time
}

func (f *fakeStore) FingerprintMatches(ctx context.Context, tenantID, fingerprintKey string, since time.Time) ([]CandidateAd, error) {
	f.fingerprintSince = since
	return f.fingerprintMatches[fingerprintKey], nil
}

func (f *fakeStore) IPMatches(ctx context.Context, tenantID, ipKey string, since time.Time) ([]CandidateAd, error) {
	return f.ipMatches[ipKey], nil
}

func (f *fakeStore) RecentlyActiveAds(ctx context.Context, tenantID string, since time.Time) ([]CandidateAd, error) {
	return f.recentlyActive, nil
}

func (f *fakeStore) HasAttribution(ctx context.Context, dealID, stageTo string) (bool, error) {
	return f.hasAttribution, nil
}

func (f *fakeStore) RollingAverageDealValueCents(ctx context.Context, tenantID string, window time.Duration) (int64, bool, error) {
	return f.rollingAvgCents, f.rollingAvgOK, nil
}

func testTenants(t *testing.T) *config.TenantRegistry {
	t.Helper()
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

func TestAttribute_FingerprintTierWins(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	hasher := identity.NewHasher("test-salt")
	fpKey := hasher.FingerprintKey("abc123")

	store := &fakeStore{
		fingerprintMatches: map[string][]CandidateAd{
			fpKey: {{AdID: "ad-1", AccountID: "acct-1", SeenAt: now.Add(-time.Hour)}},
		},
	}

	a := New(testTenants(t), store, hasher)
	a.now = func() time.Time { return now }

	dealValue := int64(100000)
	records, err := a.Attribute(context.Background(), Event{
		TenantID:            "acme",
		DealID:              "deal-1",
		StageFrom:           "lead",
		StageTo:             "qualified",
		DealValueCents:      &dealValue,
		Timestamp:           now,
		IdentityFingerprint: "abc123",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "ad-1", r.AdID)
	assert.Equal(t, models.ConfidenceFingerprint, r.ConfidenceTier)
	assert.Equal(t, fingerprintConfidence, r.Confidence)
	// incremental = 0.3 - 0.1 = 0.2, synthetic = 0.2 * 100000 = 20000
	assert.Equal(t, int64(20000), r.DeltaValueCents)
}

func TestAttribute_WindowsAnchorOnEventTimestamp(t *testing.T) {
	processedAt := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	eventTime := processedAt.Add(-48 * time.Hour) // delivered two days late
	hasher := identity.NewHasher("test-salt")
	fpKey := hasher.FingerprintKey("abc123")

	store := &fakeStore{
		fingerprintMatches: map[string][]CandidateAd{
			fpKey: {{AdID: "ad-1", AccountID: "acct-1", SeenAt: eventTime.Add(-time.Hour)}},
		},
	}

	a := New(testTenants(t), store, hasher)
	a.now = func() time.Time { return processedAt }

	dealValue := int64(100000)
	_, err := a.Attribute(context.Background(), Event{
		TenantID:            "acme",
		DealID:              "deal-late",
		StageFrom:           "lead",
		StageTo:             "qualified",
		DealValueCents:      &dealValue,
		Timestamp:           eventTime,
		IdentityFingerprint: "abc123",
	})
	require.NoError(t, err)

	// The lookback window starts from the event's own timestamp, not
	// from when the delayed webhook was finally processed.
	assert.True(t, store.fingerprintSince.Equal(eventTime.Add(-fingerprintWindow)))
}

func TestAttribute_FallsBackToIPTier(t *testing.T) {
	now := time.Now()
	hasher := identity.NewHasher("test-salt")
	ipKey := hasher.IPKey("1.2.3.4", "some-agent")

	store := &fakeStore{
		ipMatches: map[string][]CandidateAd{
			ipKey: {{AdID: "ad-2", AccountID: "acct-1", SeenAt: now}},
		},
	}

	a := New(testTenants(t), store, hasher)
	dealValue := int64(10000)
	records, err := a.Attribute(context.Background(), Event{
		TenantID:       "acme",
		DealID:         "deal-2",
		StageFrom:      "lead",
		StageTo:        "qualified",
		DealValueCents: &dealValue,
		Timestamp:      now,
		IP:             "1.2.3.4",
		UserAgent:      "some-agent",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ConfidenceIPAndTime, records[0].ConfidenceTier)
}

func TestAttribute_SplitsAcrossTimeDecayTies(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		recentlyActive: []CandidateAd{
			{AdID: "ad-a", AccountID: "acct-1", SeenAt: now},
			{AdID: "ad-b", AccountID: "acct-1", SeenAt: now.Add(-7 * 24 * time.Hour)},
		},
	}

	a := New(testTenants(t), store, identity.NewHasher("test-salt"))
	dealValue := int64(100000)
	records, err := a.Attribute(context.Background(), Event{
		TenantID:       "acme",
		DealID:         "deal-3",
		StageFrom:      "lead",
		StageTo:        "qualified",
		DealValueCents: &dealValue,
		Timestamp:      now,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	var total int64
	for _, r := range records {
		assert.Equal(t, models.ConfidenceTimeDecay, r.ConfidenceTier)
		assert.LessOrEqual(t, r.Confidence, timeDecayConfidenceCap)
		total += r.DeltaValueCents
	}
	assert.Equal(t, int64(20000), total, "shares must sum exactly to the synthetic value")

	// ad-a was seen more recently (zero age) so its weight and therefore
	// its share must exceed ad-b's (7-day-old signal).
	byAd := map[string]int64{}
	for _, r := range records {
		byAd[r.AdID] = r.DeltaValueCents
	}
	assert.Greater(t, byAd["ad-a"], byAd["ad-b"])
}

func TestAttribute_IdempotentOnRedelivery(t *testing.T) {
	store := &fakeStore{hasAttribution: true}
	a := New(testTenants(t), store, identity.NewHasher("test-salt"))

	records, err := a.Attribute(context.Background(), Event{
		TenantID: "acme",
		DealID:   "deal-1",
		StageTo:  "qualified",
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAttribute_UnknownStageIgnored(t *testing.T) {
	store := &fakeStore{recentlyActive: []CandidateAd{{AdID: "ad-1", SeenAt: time.Now()}}}
	a := New(testTenants(t), store, identity.NewHasher("test-salt"))

	records, err := a.Attribute(context.Background(), Event{
		TenantID: "acme",
		DealID:   "deal-1",
		StageTo:  "not-a-real-stage",
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAttribute_NoCandidatesProducesNoRecords(t *testing.T) {
	store := &fakeStore{}
	a := New(testTenants(t), store, identity.NewHasher("test-salt"))

	dealValue := int64(50000)
	records, err := a.Attribute(context.Background(), Event{
		TenantID:       "acme",
		DealID:         "deal-4",
		StageFrom:      "lead",
		StageTo:        "qualified",
		DealValueCents: &dealValue,
		Timestamp:      time.Now(),
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAttribute_UnknownTenantErrors(t *testing.T) {
	store := &fakeStore{}
	a := New(testTenants(t), store, identity.NewHasher("test-salt"))

	_, err := a.Attribute(context.Background(), Event{TenantID: "missing", DealID: "deal-1", StageTo: "qualified"})
	assert.Error(t, err)
}
