package services

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed persistence boundary for the
// application services: the AdState mutations feedback ingress applies,
// and the two read-only query surfaces (GET /recommendations,
// GET /changes).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for the services layer.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ApplyMetricDeltas accumulates impressions/clicks/spend onto adID's
// state, joining against ads to recompute age_hours as of observedAt.
func (s *PostgresStore) ApplyMetricDeltas(ctx context.Context, adID string, impressionsDelta, clicksDelta, spendDeltaCents int64, observedAt time.Time) error {
	const query = `
		UPDATE ad_states
		SET impressions = ad_states.impressions + $2,
		    clicks = ad_states.clicks + $3,
		    spend_cents = ad_states.spend_cents + $4,
		    age_hours = GREATEST(ad_states.age_hours, EXTRACT(EPOCH FROM ($5 - ads.created_at)) / 3600),
		    last_updated_at = $5
		FROM ads
		WHERE ad_states.ad_id = $1 AND ads.id = ad_states.ad_id`
	tag, err := s.pool.Exec(ctx, query, adID, impressionsDelta, clicksDelta, spendDeltaCents, observedAt)
	if err != nil {
		return fmt.Errorf("updating ad state metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ad %s", ErrUnknownAd, adID)
	}
	return nil
}

// ApplyDailyStats upserts the day's incremental impressions/clicks/spend
// for adID, the rollup the fatigue detector's rolling-window rules read.
func (s *PostgresStore) ApplyDailyStats(ctx context.Context, adID string, day time.Time, impressionsDelta, clicksDelta, spendDeltaCents int64) error {
	const query = `
		INSERT INTO ad_daily_stats (ad_id, day, impressions, clicks, spend_cents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ad_id, day) DO UPDATE
		SET impressions = ad_daily_stats.impressions + EXCLUDED.impressions,
		    clicks = ad_daily_stats.clicks + EXCLUDED.clicks,
		    spend_cents = ad_daily_stats.spend_cents + EXCLUDED.spend_cents`
	if _, err := s.pool.Exec(ctx, query, adID, day.UTC().Truncate(24*time.Hour), impressionsDelta, clicksDelta, spendDeltaCents); err != nil {
		return fmt.Errorf("applying daily stats: %w", err)
	}
	return nil
}

// GetPosterior returns adID's current Beta(alpha, beta) Thompson
// sampling posterior.
func (s *PostgresStore) GetPosterior(ctx context.Context, adID string) (float64, float64, error) {
	const query = `SELECT alpha, beta FROM ad_states WHERE ad_id = $1`
	var alpha, beta float64
	if err := s.pool.QueryRow(ctx, query, adID).Scan(&alpha, &beta); err != nil {
		return 0, 0, fmt.Errorf("loading posterior for ad %s: %w", adID, err)
	}
	return alpha, beta, nil
}

// SetPosterior persists adID's updated Beta posterior.
func (s *PostgresStore) SetPosterior(ctx context.Context, adID string, alpha, beta float64) error {
	const query = `UPDATE ad_states SET alpha = $1, beta = $2 WHERE ad_id = $3`
	tag, err := s.pool.Exec(ctx, query, alpha, beta, adID)
	if err != nil {
		return fmt.Errorf("persisting posterior for ad %s: %w", adID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ad %s", ErrUnknownAd, adID)
	}
	return nil
}

// AddSyntheticRevenue adds deltaCents to adID's synthetic pipeline
// revenue.
func (s *PostgresStore) AddSyntheticRevenue(ctx context.Context, adID string, deltaCents int64) error {
	const query = `UPDATE ad_states SET synthetic_revenue_cents = synthetic_revenue_cents + $1 WHERE ad_id = $2`
	tag, err := s.pool.Exec(ctx, query, deltaCents, adID)
	if err != nil {
		return fmt.Errorf("adding synthetic revenue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ad %s", ErrUnknownAd, adID)
	}
	return nil
}

// RecommendationRecord is one persisted cycle recommendation, the shape
// GET /recommendations returns.
type RecommendationRecord struct {
	ID                string
	TenantID          string
	CycleID           string
	AdID              string
	AccountID         string
	Action            string
	RecommendedBudget int64
	PreviousBudget    int64
	Confidence        float64
	Reason            string
	CreatedAt         time.Time
}

// ListRecommendations returns accountID's recommendations, most recent
// cycle first.
func (s *PostgresStore) ListRecommendations(ctx context.Context, accountID string) ([]RecommendationRecord, error) {
	const query = `
		SELECT id, tenant_id, cycle_id, ad_id, account_id, action,
		       recommended_budget_cents, previous_budget_cents, confidence, reason, created_at
		FROM recommendations
		WHERE account_id = $1
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var out []RecommendationRecord
	for rows.Next() {
		var r RecommendationRecord
		var id int64
		if err := rows.Scan(&id, &r.TenantID, &r.CycleID, &r.AdID, &r.AccountID, &r.Action,
			&r.RecommendedBudget, &r.PreviousBudget, &r.Confidence, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recommendation row: %w", err)
		}
		r.ID = fmt.Sprintf("%d", id)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChanges returns accountID's pending/history changes, optionally
// narrowed to status, most recent first. Status "" returns every
// status.
func (s *PostgresStore) ListChanges(ctx context.Context, accountID, status string) ([]models.PendingAdChange, error) {
	query := `
		SELECT id, tenant_id, ad_id, account_id, change_type, payload, status, attempts,
		       worker_id, earliest_execute_at, idempotency_key, reason, created_at,
		       claimed_at, applied_at, error, claim_deadline
		FROM pending_ad_changes
		WHERE account_id = $1`
	args := []any{accountID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var out []models.PendingAdChange
	for rows.Next() {
		var c models.PendingAdChange
		var changeType, changeStatus string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AdID, &c.AccountID, &changeType, &c.Payload,
			&changeStatus, &c.Attempts, &c.WorkerID, &c.EarliestExecuteAt, &c.IdempotencyKey,
			&c.Reason, &c.CreatedAt, &c.ClaimedAt, &c.AppliedAt, &c.Error, &c.ClaimDeadline); err != nil {
			return nil, fmt.Errorf("scanning change row: %w", err)
		}
		c.ChangeType = models.ChangeType(changeType)
		c.Status = models.ChangeStatus(changeStatus)
		out = append(out, c)
	}
	return out, rows.Err()
}
