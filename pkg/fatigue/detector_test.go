package fatigue

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFatigueStore struct {
	candidates []Candidate
}

func (f *fakeFatigueStore) ActiveCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]Candidate, error) {
	return f.candidates, nil
}

type queueCall struct {
	kind   string
	adID   string
	budget int64
	reason string
}

type fakeQueue struct {
	calls []queueCall
}

func (f *fakeQueue) EnqueueBudgetDecrease(ctx context.Context, c Candidate, newBudgetCents int64, reason string) error {
	f.calls = append(f.calls, queueCall{kind: "budget_decrease", adID: c.AdID, budget: newBudgetCents, reason: reason})
	return nil
}

func (f *fakeQueue) EnqueuePause(ctx context.Context, c Candidate, reason string) error {
	f.calls = append(f.calls, queueCall{kind: "pause", adID: c.AdID, reason: reason})
	return nil
}

type fakeWinnerSearcher struct {
	ids []string
}

func (f *fakeWinnerSearcher) TopPatternIDs(ctx context.Context, accountID string, k int) ([]string, error) {
	return f.ids, nil
}

type fakeCreativeRequester struct {
	requested bool
	reason    string
}

func (f *fakeCreativeRequester) RequestReplacement(ctx context.Context, accountID string, topWinners []string, reason string) error {
	f.requested = true
	f.reason = reason
	return nil
}

func newTestTenant() *config.TenantConfig {
	base := config.GetBuiltinConfig().DefaultTenant
	base.TenantID = "tenant-1"
	return &base
}

func TestTick_HealthyAdProducesNoRemediation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	healthy := Candidate{
		AdID:      "ad-healthy",
		AccountID: "acct-1",
		History:   dayRange(start, 14, 10000, 500, 20, 5000),
	}

	store := &fakeFatigueStore{candidates: []Candidate{healthy}}
	queue := &fakeQueue{}
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})

	d := New(tenants, store, queue, nil, nil, time.Hour)
	err := d.Tick(context.Background(), "tenant-1", start.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Empty(t, queue.calls)
}

func TestTick_Severity1FiresBudgetDecreaseOnly(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 11, 10000, 100, 5, 5000)
	spike := dayRange(start.AddDate(0, 0, 11), 3, 10000, 100, 5, 20000)

	cand := Candidate{
		AdID:               "ad-spike",
		AccountID:          "acct-1",
		CurrentBudgetCents: 10000,
		History:            append(prior, spike...),
	}

	store := &fakeFatigueStore{candidates: []Candidate{cand}}
	queue := &fakeQueue{}
	winners := &fakeWinnerSearcher{ids: []string{"p1"}}
	creative := &fakeCreativeRequester{}
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})

	d := New(tenants, store, queue, winners, creative, time.Hour)
	err := d.Tick(context.Background(), "tenant-1", start.AddDate(0, 0, 14))
	require.NoError(t, err)

	require.Len(t, queue.calls, 1)
	assert.Equal(t, "budget_decrease", queue.calls[0].kind)
	// The cut comes off the ad's live budget: 10000 * (1 - 0.30).
	assert.Equal(t, int64(7000), queue.calls[0].budget)
	assert.False(t, creative.requested)
}

func TestTick_Severity2FiresPauseAndCreativeReplacement(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 7, 2000, 100, 0, 10000)
	recent := dayRange(start.AddDate(0, 0, 7), 7, 2000, 25, 0, 10000)

	cand := Candidate{
		AdID:                  "ad-dying",
		AccountID:             "acct-1",
		History:               append(prior, recent...),
		CumulativeImpressions: 3000000,
		CumulativeConversions: 0,
	}

	store := &fakeFatigueStore{candidates: []Candidate{cand}}
	queue := &fakeQueue{}
	winners := &fakeWinnerSearcher{ids: []string{"p1", "p2"}}
	creative := &fakeCreativeRequester{}
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})

	d := New(tenants, store, queue, winners, creative, time.Hour)
	err := d.Tick(context.Background(), "tenant-1", start.AddDate(0, 0, 14))
	require.NoError(t, err)

	require.Len(t, queue.calls, 2)
	assert.Equal(t, "budget_decrease", queue.calls[0].kind)
	assert.Equal(t, "pause", queue.calls[1].kind)
	assert.True(t, creative.requested)
}

func TestTick_Severity2WithoutWinnerOrCreativeSkipsReplacementGracefully(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := dayRange(start, 7, 2000, 100, 0, 10000)
	recent := dayRange(start.AddDate(0, 0, 7), 7, 2000, 25, 0, 10000)

	cand := Candidate{
		AdID:                  "ad-dying",
		AccountID:             "acct-1",
		History:               append(prior, recent...),
		CumulativeImpressions: 3000000,
		CumulativeConversions: 0,
	}

	store := &fakeFatigueStore{candidates: []Candidate{cand}}
	queue := &fakeQueue{}
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})

	d := New(tenants, store, queue, nil, nil, time.Hour)
	err := d.Tick(context.Background(), "tenant-1", start.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Len(t, queue.calls, 2)
}

func TestTick_UnknownTenantErrors(t *testing.T) {
	store := &fakeFatigueStore{}
	queue := &fakeQueue{}
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{})

	d := New(tenants, store, queue, nil, nil, time.Hour)
	err := d.Tick(context.Background(), "missing-tenant", time.Now())
	assert.Error(t, err)
}

func TestThresholdsFor_AppliesTenantOverrides(t *testing.T) {
	tenant := newTestTenant()
	tenant.FatigueMaxImpressions = 999
	tenant.FatigueBudgetDecreasePct = 0.5

	th := thresholdsFor(tenant)
	assert.Equal(t, int64(999), th.MaxImpressions)
	assert.Equal(t, 0.5, th.BudgetDecreasePct)
	assert.Equal(t, DefaultThresholds().FlatlineImpressions, th.FlatlineImpressions)
}

func TestBudgetFloorOrDecrease_CutsCurrentBudget(t *testing.T) {
	cand := Candidate{CurrentBudgetCents: 10000}
	th := Thresholds{BudgetDecreasePct: 0.3, BudgetFloorCents: 500}

	got := budgetFloorOrDecrease(cand, th)
	assert.Equal(t, int64(7000), got)
}

func TestBudgetFloorOrDecrease_NeverBelowFloor(t *testing.T) {
	cand := Candidate{CurrentBudgetCents: 600}
	th := Thresholds{BudgetDecreasePct: 0.9, BudgetFloorCents: 500}

	got := budgetFloorOrDecrease(cand, th)
	assert.Equal(t, int64(500), got)
}

func TestBudgetFloorOrDecrease_UnknownBudgetFallsToFloor(t *testing.T) {
	th := Thresholds{BudgetDecreasePct: 0.3, BudgetFloorCents: 500}
	assert.Equal(t, int64(500), budgetFloorOrDecrease(Candidate{}, th))
}
