package attribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed implementation of Store, querying the
// ad_identity_signals and attribution_records tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for attribution lookups.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FingerprintMatches returns the ads (deduplicated, most-recent signal
// per ad) whose fingerprint key was observed for tenantID since the
// given time.
func (s *PostgresStore) FingerprintMatches(ctx context.Context, tenantID, fingerprintKey string, since time.Time) ([]CandidateAd, error) {
	const query = `
		SELECT ad_id, account_id, MAX(seen_at) AS seen_at
		FROM ad_identity_signals
		JOIN ads ON ads.id = ad_identity_signals.ad_id
		WHERE ad_identity_signals.tenant_id = $1
		  AND fingerprint_key = $2
		  AND seen_at >= $3
		GROUP BY ad_id, account_id`
	return s.queryCandidates(ctx, query, tenantID, fingerprintKey, since)
}

// IPMatches returns the ads whose IP+user-agent key was observed for
// tenantID since the given time.
func (s *PostgresStore) IPMatches(ctx context.Context, tenantID, ipKey string, since time.Time) ([]CandidateAd, error) {
	const query = `
		SELECT ad_id, account_id, MAX(seen_at) AS seen_at
		FROM ad_identity_signals
		JOIN ads ON ads.id = ad_identity_signals.ad_id
		WHERE ad_identity_signals.tenant_id = $1
		  AND ip_key = $2
		  AND seen_at >= $3
		GROUP BY ad_id, account_id`
	return s.queryCandidates(ctx, query, tenantID, ipKey, since)
}

// RecentlyActiveAds returns every ad with any identity signal for
// tenantID since the given time, the fallback candidate pool for the
// time-decay tier.
func (s *PostgresStore) RecentlyActiveAds(ctx context.Context, tenantID string, since time.Time) ([]CandidateAd, error) {
	const query = `
		SELECT ad_id, account_id, MAX(seen_at) AS seen_at
		FROM ad_identity_signals
		JOIN ads ON ads.id = ad_identity_signals.ad_id
		WHERE ad_identity_signals.tenant_id = $1
		  AND seen_at >= $2
		GROUP BY ad_id, account_id`
	return s.queryCandidates(ctx, query, tenantID, since)
}

func (s *PostgresStore) queryCandidates(ctx context.Context, query string, args ...any) ([]CandidateAd, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying identity signals: %w", err)
	}
	defer rows.Close()

	var candidates []CandidateAd
	for rows.Next() {
		var c CandidateAd
		if err := rows.Scan(&c.AdID, &c.AccountID, &c.SeenAt); err != nil {
			return nil, fmt.Errorf("scanning identity signal row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity signal rows: %w", err)
	}

	// Stable order keeps rounding-remainder allocation (the last
	// candidate absorbs it) deterministic across runs.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AdID < candidates[j].AdID })
	return candidates, nil
}

// HasAttribution reports whether an attribution record already exists
// for (dealID, stageTo).
func (s *PostgresStore) HasAttribution(ctx context.Context, dealID, stageTo string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM attribution_records WHERE deal_id = $1 AND stage_to = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, dealID, stageTo).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking existing attribution: %w", err)
	}
	return exists, nil
}

// RollingAverageDealValueCents returns the tenant's median attributed
// deal value (summed per deal, across all stage transitions) over the
// trailing window.
func (s *PostgresStore) RollingAverageDealValueCents(ctx context.Context, tenantID string, window time.Duration) (int64, bool, error) {
	const query = `
		SELECT (PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY deal_total::DOUBLE PRECISION))::BIGINT
		FROM (
			SELECT deal_id, SUM(delta_value_cents) AS deal_total
			FROM attribution_records ar
			JOIN ads ON ads.id = ar.ad_id
			WHERE ads.tenant_id = $1 AND ar.created_at >= $2
			GROUP BY deal_id
		) per_deal`
	var avg *int64
	err := s.pool.QueryRow(ctx, query, tenantID, time.Now().Add(-window)).Scan(&avg)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("computing rolling deal value average: %w", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// RecordIdentitySignal persists an observed fingerprint/IP signal for an
// ad impression or click, the write side that populates the lookups
// above. Called by the ingestion path, not by the Attributor itself.
func (s *PostgresStore) RecordIdentitySignal(ctx context.Context, tenantID, adID, fingerprintKey, ipKey string, seenAt time.Time) error {
	const query = `
		INSERT INTO ad_identity_signals (tenant_id, ad_id, fingerprint_key, ip_key, seen_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`
	if _, err := s.pool.Exec(ctx, query, tenantID, adID, fingerprintKey, ipKey, seenAt); err != nil {
		return fmt.Errorf("recording identity signal: %w", err)
	}
	return nil
}

// SaveAttributionRecords persists the records produced by Attribute in a
// single batch insert.
func (s *PostgresStore) SaveAttributionRecords(ctx context.Context, records []models.AttributionRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO attribution_records
				(id, deal_id, stage_from, stage_to, delta_value_cents, ad_id, confidence_tier, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.DealID, r.StageFrom, r.StageTo, r.DeltaValueCents, r.AdID, r.ConfidenceTier, r.Confidence, r.CreatedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting attribution record: %w", err)
		}
	}
	return nil
}
