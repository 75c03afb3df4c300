package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed implementation of Store and
// RecommendationRecorder, reading ads/ad_states in one transaction per
// cycle and serializing concurrent cycles for the same tenant through a
// session-scoped advisory lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for scheduler reads/writes.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AdvisoryLock acquires a session-scoped pg_advisory_lock keyed on
// tenantID's hash, holding a single dedicated connection for the
// lock's lifetime (advisory locks are connection-scoped, so the
// acquiring and releasing statements must share one connection). It
// blocks until acquired or ctx is canceled.
func (s *PostgresStore) AdvisoryLock(ctx context.Context, tenantID string) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	key := tenantLockKey(tenantID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquiring pg_advisory_lock: %w", err)
	}

	release := func() {
		// Use a background context: releasing must happen even if the
		// cycle's own context has already been canceled or timed out.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, true, nil
}

func tenantLockKey(tenantID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tenantID))
	return int64(h.Sum64())
}

// LoadCandidates reads every non-killed ad (active, paused or fatigued)
// and its state for tenantID inside
// a single repeatable-read transaction, so the scorer sees one
// consistent snapshot, along with the account-cohort mean CTR/ROAS each
// ad is normalized against.
func (s *PostgresStore) LoadCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]AdCandidate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("beginning candidate snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		SELECT ads.id, ads.tenant_id, ads.account_id, ads.campaign_id, ads.created_at,
		       ads.current_budget_cents, ads.status,
		       ad_states.impressions, ad_states.clicks, ad_states.spend_cents,
		       ad_states.observed_revenue_cents, ad_states.synthetic_revenue_cents,
		       ad_states.age_hours, ad_states.last_updated_at, ad_states.alpha, ad_states.beta,
		       ad_states.consecutive_low_roas_evals
		FROM ads
		JOIN ad_states ON ad_states.ad_id = ads.id
		WHERE ads.tenant_id = $1 AND ads.status != $2`
	rows, err := tx.Query(ctx, query, tenantID, string(models.AdStatusKilled))
	if err != nil {
		return nil, fmt.Errorf("querying scheduler candidates: %w", err)
	}

	var candidates []AdCandidate
	accountIDs := make(map[string]struct{})
	for rows.Next() {
		var c AdCandidate
		var status string
		if err := rows.Scan(
			&c.Ad.ID, &c.Ad.TenantID, &c.Ad.AccountID, &c.Ad.CampaignID, &c.Ad.CreatedAt,
			&c.Ad.CurrentBudgetCents, &status,
			&c.State.Impressions, &c.State.Clicks, &c.State.SpendCents,
			&c.State.ObservedRevenueCents, &c.State.SyntheticRevenueCents,
			&c.State.AgeHours, &c.State.LastUpdatedAt, &c.State.Alpha, &c.State.Beta,
			&c.State.ConsecutiveLowROASEvals,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning scheduler candidate row: %w", err)
		}
		c.Ad.Status = models.AdStatus(status)
		c.State.AdID = c.Ad.ID
		accountIDs[c.Ad.AccountID] = struct{}{}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading scheduler candidate rows: %w", err)
	}

	cohorts, err := cohortStats(ctx, tx, accountIDs)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if cohort, ok := cohorts[candidates[i].Ad.AccountID]; ok {
			candidates[i].CohortMeanCTR = cohort.meanCTR
			candidates[i].CohortMeanROAS = cohort.meanROAS
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing candidate snapshot transaction: %w", err)
	}
	return candidates, nil
}

type cohortBaseline struct {
	meanCTR  float64
	meanROAS float64
}

// cohortStats computes each account's mean CTR/ROAS across its own ad
// states, the normalization baseline the scorer divides by.
func cohortStats(ctx context.Context, tx pgx.Tx, accountIDs map[string]struct{}) (map[string]cohortBaseline, error) {
	result := make(map[string]cohortBaseline, len(accountIDs))
	if len(accountIDs) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(accountIDs))
	for id := range accountIDs {
		ids = append(ids, id)
	}

	const query = `
		SELECT ads.account_id,
		       AVG(CASE WHEN ad_states.impressions = 0 THEN 0 ELSE ad_states.clicks::float8 / ad_states.impressions END),
		       AVG(CASE WHEN ad_states.spend_cents = 0 THEN 0
		                ELSE (ad_states.observed_revenue_cents + ad_states.synthetic_revenue_cents)::float8 / ad_states.spend_cents END)
		FROM ads
		JOIN ad_states ON ad_states.ad_id = ads.id
		WHERE ads.account_id = ANY($1)
		GROUP BY ads.account_id`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("querying cohort baselines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		var baseline cohortBaseline
		if err := rows.Scan(&accountID, &baseline.meanCTR, &baseline.meanROAS); err != nil {
			return nil, fmt.Errorf("scanning cohort baseline row: %w", err)
		}
		result[accountID] = baseline
	}
	return result, rows.Err()
}

// TotalBudgetCents returns the sum of every non-killed ad's current
// budget for tenantID: the system reallocates a fixed portfolio-level daily
// budget rather than inventing new spend.
func (s *PostgresStore) TotalBudgetCents(ctx context.Context, tenantID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(current_budget_cents), 0)
		FROM ads
		WHERE tenant_id = $1 AND status != $2`
	var total int64
	err := s.pool.QueryRow(ctx, query, tenantID, string(models.AdStatusKilled)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing tenant budget: %w", err)
	}
	return total, nil
}

// UpdateConsecutiveLowROASEvals persists the per-ad consecutive-low-ROAS
// streak the allocator's kill rule consumes on the next cycle.
func (s *PostgresStore) UpdateConsecutiveLowROASEvals(ctx context.Context, adID string, count int) error {
	const query = `UPDATE ad_states SET consecutive_low_roas_evals = $1 WHERE ad_id = $2`
	_, err := s.pool.Exec(ctx, query, count, adID)
	if err != nil {
		return fmt.Errorf("updating consecutive low ROAS streak for ad %s: %w", adID, err)
	}
	return nil
}

// RecordRecommendations persists one cycle's recommendations for the
// GET /recommendations query surface.
func (s *PostgresStore) RecordRecommendations(ctx context.Context, tenantID, cycleID string, at time.Time, recs []CycleRecommendation) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO recommendations
			(tenant_id, cycle_id, ad_id, account_id, action, recommended_budget_cents,
			 previous_budget_cents, confidence, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, r := range recs {
		batch.Queue(query, tenantID, cycleID, r.AdID, r.AccountID, r.Action,
			r.RecommendedBudget, r.PreviousBudget, r.Confidence, r.Reason, at)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording cycle recommendations: %w", err)
		}
	}
	return nil
}
