package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed implementation of Store, querying the
// pending_ad_changes and change_history tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool for the durable change queue.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Enqueue inserts a new pending change. A duplicate idempotency_key whose
// prior record is anything but dead is a no-op that returns the existing
// id; a duplicate against a dead record is rejected, since that intent
// already reached its terminal failure and retrying it requires a fresh
// key.
func (s *PostgresStore) Enqueue(ctx context.Context, change *models.PendingAdChange) (string, bool, error) {
	if change.IdempotencyKey == "" {
		return "", false, ErrMissingIdempotencyKey
	}
	if !change.ChangeType.IsValid() {
		return "", false, ErrMissingChangeType
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	if change.Status == "" {
		change.Status = models.ChangeStatusPending
	}
	if change.Payload == nil {
		change.Payload = []byte("{}")
	}

	const insert = `
		INSERT INTO pending_ad_changes
			(id, tenant_id, ad_id, account_id, change_type, payload, status, attempts, earliest_execute_at, idempotency_key, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`

	var insertedID string
	err := s.pool.QueryRow(ctx, insert,
		change.ID, change.TenantID, change.AdID, change.AccountID, string(change.ChangeType), change.Payload,
		string(change.Status), change.EarliestExecuteAt, change.IdempotencyKey, change.Reason, change.CreatedAt,
	).Scan(&insertedID)
	if err == nil {
		return insertedID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("enqueueing pending change: %w", err)
	}

	// Conflict: look up the existing record.
	const lookup = `SELECT id, status FROM pending_ad_changes WHERE idempotency_key = $1`
	var existingID, status string
	if err := s.pool.QueryRow(ctx, lookup, change.IdempotencyKey).Scan(&existingID, &status); err != nil {
		return "", false, fmt.Errorf("looking up existing idempotency key: %w", err)
	}
	if models.ChangeStatus(status) == models.ChangeStatusDead {
		return "", false, fmt.Errorf("%w: %s", ErrIdempotencyKeyDead, change.IdempotencyKey)
	}
	return existingID, true, nil
}

// Claim atomically selects up to batchSize pending rows ready to execute,
// locking them with FOR UPDATE SKIP LOCKED so concurrent workers never
// receive overlapping rows, and marks them claimed with a deadline.
func (s *PostgresStore) Claim(ctx context.Context, workerID string, batchSize int, claimTimeout time.Duration) ([]*models.PendingAdChange, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The NOT EXISTS clause keeps per-ad enqueue order: a change is
	// claimable only while no earlier-created change for the same ad is
	// still in flight, so a requeued head blocks its successors rather
	// than being overtaken by them.
	const selectQuery = `
		SELECT p.id, p.tenant_id, p.ad_id, p.account_id, p.change_type, p.payload, p.status, p.attempts,
		       p.worker_id, p.earliest_execute_at, p.idempotency_key, p.reason,
		       p.created_at, p.claimed_at, p.applied_at, p.error, p.claim_deadline
		FROM pending_ad_changes p
		WHERE p.status = $1 AND p.earliest_execute_at <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM pending_ad_changes q
		      WHERE q.ad_id = p.ad_id
		        AND q.status IN ('pending', 'claimed')
		        AND (q.created_at, q.id) < (p.created_at, p.id)
		  )
		ORDER BY p.earliest_execute_at, p.created_at, p.id
		LIMIT $3
		FOR UPDATE OF p SKIP LOCKED`

	now := time.Now()
	rows, err := tx.Query(ctx, selectQuery, string(models.ChangeStatusPending), now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("querying claimable changes: %w", err)
	}
	changes, err := scanChanges(rows)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.ID
	}
	deadline := now.Add(claimTimeout)

	const claim = `
		UPDATE pending_ad_changes
		SET status = $1, worker_id = $2, claimed_at = $3, claim_deadline = $4
		WHERE id = ANY($5)`
	if _, err := tx.Exec(ctx, claim, string(models.ChangeStatusClaimed), workerID, now, deadline, ids); err != nil {
		return nil, fmt.Errorf("claiming changes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	for _, c := range changes {
		c.Status = models.ChangeStatusClaimed
		c.WorkerID = &workerID
		c.ClaimedAt = &now
		c.ClaimDeadline = &deadline
	}
	return changes, nil
}

func scanChanges(rows pgx.Rows) ([]*models.PendingAdChange, error) {
	defer rows.Close()
	var changes []*models.PendingAdChange
	for rows.Next() {
		var c models.PendingAdChange
		var changeType, status string
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.AdID, &c.AccountID, &changeType, &c.Payload, &status, &c.Attempts,
			&c.WorkerID, &c.EarliestExecuteAt, &c.IdempotencyKey, &c.Reason,
			&c.CreatedAt, &c.ClaimedAt, &c.AppliedAt, &c.Error, &c.ClaimDeadline,
		); err != nil {
			return nil, fmt.Errorf("scanning pending change row: %w", err)
		}
		c.ChangeType = models.ChangeType(changeType)
		c.Status = models.ChangeStatus(status)
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending change rows: %w", err)
	}
	return changes, nil
}

// MarkApplied transitions a change to applied, its terminal success state.
func (s *PostgresStore) MarkApplied(ctx context.Context, id string, appliedAt time.Time) error {
	const query = `
		UPDATE pending_ad_changes
		SET status = $1, applied_at = $2, claim_deadline = NULL
		WHERE id = $3`
	if _, err := s.pool.Exec(ctx, query, string(models.ChangeStatusApplied), appliedAt, id); err != nil {
		return fmt.Errorf("marking change applied: %w", err)
	}
	return nil
}

// Requeue transitions a change back to pending after a retryable failure,
// incrementing its attempt count and pushing its execute time out.
func (s *PostgresStore) Requeue(ctx context.Context, id string, earliestExecuteAt time.Time, attempts int, lastErr string) error {
	const query = `
		UPDATE pending_ad_changes
		SET status = $1, attempts = $2, earliest_execute_at = $3, error = $4,
		    worker_id = NULL, claim_deadline = NULL
		WHERE id = $5`
	if _, err := s.pool.Exec(ctx, query, string(models.ChangeStatusPending), attempts, earliestExecuteAt, lastErr, id); err != nil {
		return fmt.Errorf("requeueing change: %w", err)
	}
	return nil
}

// MarkDead transitions a change to dead, its terminal failure state.
func (s *PostgresStore) MarkDead(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE pending_ad_changes
		SET status = $1, error = $2, claim_deadline = NULL
		WHERE id = $3`
	if _, err := s.pool.Exec(ctx, query, string(models.ChangeStatusDead), reason, id); err != nil {
		return fmt.Errorf("marking change dead: %w", err)
	}
	return nil
}

// RecordHistory appends an immutable audit row for a terminal transition.
func (s *PostgresStore) RecordHistory(ctx context.Context, h *models.ChangeHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	const query = `
		INSERT INTO change_history
			(id, change_id, ad_id, account_id, change_type, status, reason, error, latency_ms, attempts, budget_delta_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		h.ID, h.ChangeID, h.AdID, h.AccountID, string(h.ChangeType), string(h.Status),
		h.Reason, h.Error, h.LatencyMS, h.Attempts, h.BudgetDeltaCents, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording change history: %w", err)
	}
	return nil
}

// RecentAppliedCount counts changes applied for accountID since the given
// time, the rate-cap check's basis.
func (s *PostgresStore) RecentAppliedCount(ctx context.Context, accountID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM change_history
		WHERE account_id = $1 AND status = $2 AND created_at >= $3`
	var count int
	if err := s.pool.QueryRow(ctx, query, accountID, string(models.ChangeStatusApplied), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recent applied changes: %w", err)
	}
	return count, nil
}

// RecentBudgetVelocityCents sums the absolute budget deltas of applied
// budget changes for accountID since the given time, recorded directly on
// ChangeHistory at apply time.
func (s *PostgresStore) RecentBudgetVelocityCents(ctx context.Context, accountID string, since time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(budget_delta_cents), 0)
		FROM change_history
		WHERE account_id = $1 AND status = $2
		  AND change_type IN ($3, $4)
		  AND created_at >= $5`
	var total int64
	err := s.pool.QueryRow(ctx, query, accountID, string(models.ChangeStatusApplied),
		string(models.ChangeTypeBudgetIncrease), string(models.ChangeTypeBudgetDecrease), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing recent budget velocity: %w", err)
	}
	return total, nil
}

// CurrentBudgetCents returns the ad's current budget from the ads table.
func (s *PostgresStore) CurrentBudgetCents(ctx context.Context, adID string) (int64, error) {
	const query = `SELECT current_budget_cents FROM ads WHERE id = $1`
	var cents int64
	if err := s.pool.QueryRow(ctx, query, adID).Scan(&cents); err != nil {
		return 0, fmt.Errorf("fetching current budget: %w", err)
	}
	return cents, nil
}

// ReclaimExpiredClaims resets rows still claimed past their claim_deadline
// back to pending, recovering work left behind by a crashed worker.
func (s *PostgresStore) ReclaimExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	const query = `
		UPDATE pending_ad_changes
		SET status = $1, worker_id = NULL, claimed_at = NULL, claim_deadline = NULL
		WHERE status = $2 AND claim_deadline IS NOT NULL AND claim_deadline < $3`
	tag, err := s.pool.Exec(ctx, query, string(models.ChangeStatusPending), string(models.ChangeStatusClaimed), now)
	if err != nil {
		return 0, fmt.Errorf("reclaiming expired claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueueDepths counts queue rows grouped by status, feeding the queue
// depth gauge.
func (s *PostgresStore) QueueDepths(ctx context.Context) (map[string]int, error) {
	const query = `SELECT status, COUNT(*) FROM pending_ad_changes GROUP BY status`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting queue depths: %w", err)
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning queue depth row: %w", err)
		}
		depths[status] = count
	}
	return depths, rows.Err()
}
