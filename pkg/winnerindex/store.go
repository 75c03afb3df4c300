package winnerindex

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for winner pattern storage.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Upsert inserts a new pattern or, if ad_id already has one, updates it
// in place while keeping the original pattern_id.
func (s *PostgresStore) Upsert(ctx context.Context, p *models.WinnerPattern) error {
	const query = `
		INSERT INTO winner_patterns (
			pattern_id, ad_id, account_id, embedding, hook_style, cta, niche, cohort,
			snapshot_ctr, snapshot_roas, snapshot_spend_cents, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ad_id) DO UPDATE SET
			embedding            = EXCLUDED.embedding,
			hook_style           = EXCLUDED.hook_style,
			cta                  = EXCLUDED.cta,
			niche                = EXCLUDED.niche,
			cohort               = EXCLUDED.cohort,
			snapshot_ctr         = EXCLUDED.snapshot_ctr,
			snapshot_roas        = EXCLUDED.snapshot_roas,
			snapshot_spend_cents = EXCLUDED.snapshot_spend_cents`
	_, err := s.pool.Exec(ctx, query,
		p.PatternID, p.AdID, p.AccountID, embeddingToFloat64(p.Embedding),
		p.Metadata.HookStyle, p.Metadata.CTA, p.Metadata.Niche, p.Metadata.Cohort,
		p.Metadata.Snapshot.CTR, p.Metadata.Snapshot.PipelineROAS, p.Metadata.Snapshot.SpendCents,
		p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting winner pattern: %w", err)
	}
	return nil
}

// Candidates returns patterns matching filters for in-process ranking.
func (s *PostgresStore) Candidates(ctx context.Context, filters SearchFilters) ([]models.WinnerPattern, error) {
	query := `
		SELECT pattern_id, ad_id, account_id, embedding, hook_style, cta, niche, cohort,
		       snapshot_ctr, snapshot_roas, snapshot_spend_cents, created_at
		FROM winner_patterns
		WHERE ($1 = '' OR account_id = $1)
		  AND ($2 = '' OR niche = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)`
	var since *time.Time
	if !filters.Since.IsZero() {
		since = &filters.Since
	}

	rows, err := s.pool.Query(ctx, query, filters.AccountID, filters.Niche, since)
	if err != nil {
		return nil, fmt.Errorf("querying winner pattern candidates: %w", err)
	}
	defer rows.Close()

	var patterns []models.WinnerPattern
	for rows.Next() {
		var p models.WinnerPattern
		var embedding []float64
		if err := rows.Scan(
			&p.PatternID, &p.AdID, &p.AccountID, &embedding,
			&p.Metadata.HookStyle, &p.Metadata.CTA, &p.Metadata.Niche, &p.Metadata.Cohort,
			&p.Metadata.Snapshot.CTR, &p.Metadata.Snapshot.PipelineROAS, &p.Metadata.Snapshot.SpendCents,
			&p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning winner pattern: %w", err)
		}
		p.Embedding = embeddingToFloat32(embedding)
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating winner pattern candidates: %w", err)
	}
	return patterns, nil
}

// Delete removes a pattern by pattern_id.
func (s *PostgresStore) Delete(ctx context.Context, patternID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM winner_patterns WHERE pattern_id = $1`, patternID)
	if err != nil {
		return fmt.Errorf("deleting winner pattern %s: %w", patternID, err)
	}
	return nil
}

func embeddingToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func embeddingToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
