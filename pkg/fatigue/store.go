package fatigue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// historyWindowDays is the longest lookback any rule needs (CPM spike
// compares a 3-day mean against a 14-day mean).
const historyWindowDays = 14

// PostgresStore is the pgx-backed implementation of Store, assembling
// each candidate's rolling daily history from ad_daily_stats (platform
// metrics) joined against attribution_records (pipeline conversions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for fatigue candidate reads.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ActiveCandidates returns every non-killed, non-paused ad for tenantID
// along with its last 14 days of daily stats and lifetime cumulative
// totals.
func (s *PostgresStore) ActiveCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]Candidate, error) {
	const adsQuery = `
		SELECT ads.id, ads.account_id, ads.current_budget_cents, ad_states.impressions, ad_states.clicks
		FROM ads
		JOIN ad_states ON ad_states.ad_id = ads.id
		WHERE ads.tenant_id = $1 AND ads.status NOT IN ('paused', 'killed')`
	rows, err := s.pool.Query(ctx, adsQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying active ads: %w", err)
	}

	type partial struct {
		adID, accountID          string
		budgetCents              int64
		cumImpressions, cumConvs int64
	}
	var partials []partial
	for rows.Next() {
		var p partial
		var clicks int64
		if err := rows.Scan(&p.adID, &p.accountID, &p.budgetCents, &p.cumImpressions, &clicks); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning active ad row: %w", err)
		}
		partials = append(partials, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating active ad rows: %w", err)
	}
	rows.Close()

	since := asOf.AddDate(0, 0, -historyWindowDays)

	candidates := make([]Candidate, 0, len(partials))
	for _, p := range partials {
		history, err := s.dailyHistory(ctx, p.adID, since)
		if err != nil {
			return nil, err
		}
		cumConvs, err := s.cumulativeConversions(ctx, p.adID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{
			AdID:                  p.adID,
			AccountID:             p.accountID,
			TenantID:              tenantID,
			CurrentBudgetCents:    p.budgetCents,
			History:               history,
			CumulativeImpressions: p.cumImpressions,
			CumulativeConversions: cumConvs,
		})
	}
	return candidates, nil
}

// dailyHistory returns adID's daily stats since the given time,
// oldest-first, with per-day conversions joined in from attribution
// records (each attributed stage change counts as one conversion event
// for fatigue purposes).
func (s *PostgresStore) dailyHistory(ctx context.Context, adID string, since time.Time) ([]DailyStats, error) {
	const query = `
		SELECT d.day, d.impressions, d.clicks, d.spend_cents,
		       COALESCE(c.conversions, 0)
		FROM ad_daily_stats d
		LEFT JOIN (
			SELECT date_trunc('day', created_at) AS day, COUNT(*) AS conversions
			FROM attribution_records
			WHERE ad_id = $1 AND created_at >= $2
			GROUP BY date_trunc('day', created_at)
		) c ON c.day = d.day
		WHERE d.ad_id = $1 AND d.day >= $2
		ORDER BY d.day ASC`
	rows, err := s.pool.Query(ctx, query, adID, since)
	if err != nil {
		return nil, fmt.Errorf("querying daily history for ad %s: %w", adID, err)
	}
	defer rows.Close()

	var history []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Date, &d.Impressions, &d.Clicks, &d.SpendCents, &d.Conversions); err != nil {
			return nil, fmt.Errorf("scanning daily history row: %w", err)
		}
		history = append(history, d)
	}
	return history, rows.Err()
}

// cumulativeConversions sums adID's lifetime attribution record count,
// the basis for the saturation rule's conversion-growth check.
func (s *PostgresStore) cumulativeConversions(ctx context.Context, adID string) (int64, error) {
	const query = `SELECT COUNT(*) FROM attribution_records WHERE ad_id = $1`
	var count int64
	err := s.pool.QueryRow(ctx, query, adID).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("counting cumulative conversions for ad %s: %w", adID, err)
	}
	return count, nil
}
