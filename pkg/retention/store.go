package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the retention loop's two housekeeping queries:
// enumerating accounts to compact and trimming aged change_history rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for retention bookkeeping.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// DistinctAccountIDs returns every account_id with at least one winner
// pattern, the unit the compaction pass iterates over.
func (s *PostgresStore) DistinctAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT account_id FROM winner_patterns`)
	if err != nil {
		return nil, fmt.Errorf("querying winner pattern accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating winner pattern accounts: %w", err)
	}
	return ids, nil
}

// DeleteOldChangeHistory removes change_history rows older than olderThan,
// the immutable audit trail's retention boundary.
func (s *PostgresStore) DeleteOldChangeHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM change_history WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting old change history: %w", err)
	}
	return tag.RowsAffected(), nil
}
