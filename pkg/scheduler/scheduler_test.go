package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/codeready-toolchain/adengine/pkg/sampler"
	"github.com/codeready-toolchain/adengine/pkg/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchedulerStore struct {
	mu          sync.Mutex
	candidates  []AdCandidate
	totalBudget int64
	streaks     map[string]int
	locked      map[string]bool
}

func newFakeSchedulerStore(candidates []AdCandidate, totalBudget int64) *fakeSchedulerStore {
	return &fakeSchedulerStore{
		candidates:  candidates,
		totalBudget: totalBudget,
		streaks:     make(map[string]int),
		locked:      make(map[string]bool),
	}
}

func (f *fakeSchedulerStore) LoadCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]AdCandidate, error) {
	return f.candidates, nil
}

func (f *fakeSchedulerStore) TotalBudgetCents(ctx context.Context, tenantID string) (int64, error) {
	return f.totalBudget, nil
}

func (f *fakeSchedulerStore) AdvisoryLock(ctx context.Context, tenantID string) (func(), bool, error) {
	f.mu.Lock()
	if f.locked[tenantID] {
		f.mu.Unlock()
		return nil, false, nil
	}
	f.locked[tenantID] = true
	f.mu.Unlock()

	release := func() {
		f.mu.Lock()
		f.locked[tenantID] = false
		f.mu.Unlock()
	}
	return release, true, nil
}

func (f *fakeSchedulerStore) UpdateConsecutiveLowROASEvals(ctx context.Context, adID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaks[adID] = count
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	changes []*models.PendingAdChange
}

func (f *fakeQueue) Enqueue(ctx context.Context, change *models.PendingAdChange) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
	return "id-" + change.AdID, false, nil
}

func newTestTenant() *config.TenantConfig {
	base := config.GetBuiltinConfig().DefaultTenant
	base.TenantID = "tenant-1"
	base.Mode = config.ModePipeline
	return &base
}

func candidate(adID, accountID string, budget int64, impressions, clicks int64, roas float64, ageHours float64) AdCandidate {
	return AdCandidate{
		Ad: models.Ad{
			ID:                 adID,
			TenantID:           "tenant-1",
			AccountID:          accountID,
			CurrentBudgetCents: budget,
			Status:             models.AdStatusActive,
			CreatedAt:          time.Now().Add(-time.Duration(ageHours) * time.Hour),
		},
		State: models.AdState{
			AdID:                 adID,
			Impressions:          impressions,
			Clicks:               clicks,
			SpendCents:           budget,
			ObservedRevenueCents: int64(float64(budget) * roas),
			Alpha:                2,
			Beta:                 2,
			AgeHours:             ageHours,
		},
	}
}

func TestTick_EnqueuesBudgetChangeWhenRecommendationMovesBudget(t *testing.T) {
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})
	candidates := []AdCandidate{
		candidate("ad-strong", "acct-1", 10000, 100000, 6000, 4.0, 200),
		candidate("ad-weak", "acct-1", 10000, 100000, 50, 0.1, 200),
	}
	store := newFakeSchedulerStore(candidates, 20000)
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), time.Hour)
	err := sched.Tick(context.Background(), "tenant-1", time.Now())
	require.NoError(t, err)

	assert.NotEmpty(t, queue.changes)
	for _, c := range queue.changes {
		assert.Equal(t, "tenant-1", c.TenantID)
		assert.NotEmpty(t, c.IdempotencyKey)
	}
}

func TestTick_UnknownTenantReturnsError(t *testing.T) {
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{})
	store := newFakeSchedulerStore(nil, 0)
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), time.Hour)
	err := sched.Tick(context.Background(), "ghost-tenant", time.Now())
	assert.Error(t, err)
}

func TestTick_NoCandidatesIsANoOp(t *testing.T) {
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})
	store := newFakeSchedulerStore(nil, 0)
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), time.Hour)
	err := sched.Tick(context.Background(), "tenant-1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, queue.changes)
}

func TestTick_SkipsWhenAdvisoryLockAlreadyHeld(t *testing.T) {
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})
	candidates := []AdCandidate{candidate("ad-1", "acct-1", 10000, 100000, 6000, 4.0, 200)}
	store := newFakeSchedulerStore(candidates, 10000)
	store.locked["tenant-1"] = true
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), time.Hour)
	err := sched.Tick(context.Background(), "tenant-1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, queue.changes)
}

func TestTick_KillRecommendationEnqueuesPause(t *testing.T) {
	tenant := newTestTenant()
	tenant.KillConsecutiveEvals = 1
	tenant.IgnoreZoneDays = 0
	tenant.IgnoreZoneSpendCents = 0
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": tenant})

	dying := candidate("ad-dying", "acct-1", 10000, 100000, 10, 0.01, 500)
	dying.State.ObservedRevenueCents = 0
	dying.State.ConsecutiveLowROASEvals = 1
	store := newFakeSchedulerStore([]AdCandidate{dying}, 10000)
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), time.Hour)
	err := sched.Tick(context.Background(), "tenant-1", time.Now())
	require.NoError(t, err)

	require.NotEmpty(t, queue.changes)
	assert.Equal(t, models.ChangeTypePause, queue.changes[0].ChangeType)
	assert.Equal(t, 2, store.streaks["ad-dying"])
}

func TestTriggerNow_RunsOutOfCadenceCycle(t *testing.T) {
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{"tenant-1": newTestTenant()})
	candidates := []AdCandidate{candidate("ad-1", "acct-1", 10000, 100000, 6000, 4.0, 200)}
	store := newFakeSchedulerStore(candidates, 10000)
	queue := &fakeQueue{}

	sched := New(tenants, store, queue, scorer.New(), sampler.NewAllocator(), 24*time.Hour)
	sched.Start(context.Background())
	defer sched.Stop()

	err := sched.TriggerNow(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, queue.changes)
}

func TestChangeFor_HoldWithNoBudgetMovementEnqueuesNothing(t *testing.T) {
	c := AdCandidate{Ad: models.Ad{ID: "ad-1", CurrentBudgetCents: 5000}}
	rec := sampler.Recommendation{AdID: "ad-1", Action: sampler.ActionHold, RecommendedBudget: 5000}
	_, ok := changeFor("tenant-1", "cycle-1", c, rec)
	assert.False(t, ok)
}

func TestNextLowROASStreak(t *testing.T) {
	assert.Equal(t, 1, nextLowROASStreak(0, sampler.ActionReduce))
	assert.Equal(t, 3, nextLowROASStreak(2, sampler.ActionKill))
	assert.Equal(t, 0, nextLowROASStreak(5, sampler.ActionScale))
	assert.Equal(t, 0, nextLowROASStreak(5, sampler.ActionHold))
}
