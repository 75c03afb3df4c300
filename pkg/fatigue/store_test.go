package fatigue

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return NewPostgresStore(client.Pool)
}

func insertTestAd(t *testing.T, s *PostgresStore, adID, tenantID, accountID string) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO ads (id, tenant_id, account_id, campaign_id, created_at, current_budget_cents, status)
		VALUES ($1, $2, $3, 'campaign-1', now(), 10000, 'active')`,
		adID, tenantID, accountID)
	require.NoError(t, err)

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO ad_states (ad_id, impressions, clicks, last_updated_at)
		VALUES ($1, 0, 0, now())`, adID)
	require.NoError(t, err)
}

func insertDailyStats(t *testing.T, s *PostgresStore, adID string, day time.Time, impressions, clicks, spendCents int64) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO ad_daily_stats (ad_id, day, impressions, clicks, spend_cents)
		VALUES ($1, $2, $3, $4, $5)`, adID, day.UTC().Truncate(24*time.Hour), impressions, clicks, spendCents)
	require.NoError(t, err)
}

func insertAttributionRecord(t *testing.T, s *PostgresStore, adID string, createdAt time.Time) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO attribution_records
			(id, deal_id, stage_from, stage_to, delta_value_cents, ad_id, confidence_tier, confidence, created_at)
		VALUES ($1, 'deal-1', 'lead', 'won', 50000, $2, 'high', 0.9, $3)`,
		uuid.NewString(), adID, createdAt)
	require.NoError(t, err)
}

func TestActiveCandidates_SkipsPausedAndKilledAds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestAd(t, s, "ad-active", "tenant-1", "acct-1")
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ads (id, tenant_id, account_id, campaign_id, created_at, current_budget_cents, status)
		VALUES ('ad-paused', 'tenant-1', 'acct-1', 'campaign-1', now(), 10000, 'paused')`)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `INSERT INTO ad_states (ad_id, last_updated_at) VALUES ('ad-paused', now())`)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ads (id, tenant_id, account_id, campaign_id, created_at, current_budget_cents, status)
		VALUES ('ad-killed', 'tenant-1', 'acct-1', 'campaign-1', now(), 10000, 'killed')`)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `INSERT INTO ad_states (ad_id, last_updated_at) VALUES ('ad-killed', now())`)
	require.NoError(t, err)

	candidates, err := s.ActiveCandidates(ctx, "tenant-1", time.Now())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "ad-active", candidates[0].AdID)
}

func TestActiveCandidates_AssemblesDailyHistoryAndConversions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertTestAd(t, s, "ad-1", "tenant-1", "acct-1")
	insertDailyStats(t, s, "ad-1", now.AddDate(0, 0, -2), 10000, 500, 20000)
	insertDailyStats(t, s, "ad-1", now.AddDate(0, 0, -1), 12000, 600, 21000)
	insertAttributionRecord(t, s, "ad-1", now.AddDate(0, 0, -1))

	candidates, err := s.ActiveCandidates(ctx, "tenant-1", now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	require.Equal(t, int64(10000), c.CurrentBudgetCents)
	require.Len(t, c.History, 2)
	require.Equal(t, int64(10000), c.History[0].Impressions)
	require.Equal(t, int64(12000), c.History[1].Impressions)
	require.Equal(t, int64(1), c.History[1].Conversions)
	require.Equal(t, int64(0), c.History[0].Conversions)
	require.EqualValues(t, 1, c.CumulativeConversions)
}

func TestActiveCandidates_OmitsHistoryOlderThanWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertTestAd(t, s, "ad-1", "tenant-1", "acct-1")
	insertDailyStats(t, s, "ad-1", now.AddDate(0, 0, -30), 5000, 100, 1000)
	insertDailyStats(t, s, "ad-1", now.AddDate(0, 0, -1), 5000, 100, 1000)

	candidates, err := s.ActiveCandidates(ctx, "tenant-1", now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Len(t, candidates[0].History, 1)
}
