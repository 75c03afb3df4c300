// Package executor is the Safe Executor: a durable, transactional change
// queue with jitter, rate, and velocity guards that applies sampler and
// fatigue-detector decisions to the ad platform without tripping
// anti-abuse defenses or losing work on restart. A claim-then-process
// worker pool with orphan recovery sits over a Postgres-backed queue
// whose idempotency keys bound every change to at most one externally
// visible effect.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// Sentinel errors for executor operations.
var (
	// ErrNoChangesAvailable indicates no claimable pending changes exist.
	ErrNoChangesAvailable = errors.New("no changes available")

	// ErrRateLimited indicates an account has exceeded max_changes_per_hour.
	ErrRateLimited = errors.New("account rate limited")

	// ErrIdempotencyKeyDead indicates a prior change with the same
	// idempotency key already reached the dead terminal state; the
	// caller must mint a fresh key to retry the intent.
	ErrIdempotencyKeyDead = errors.New("idempotency key already dead")

	// ErrMissingIdempotencyKey / ErrMissingChangeType guard Enqueue's
	// contract: both fields are required before a change is accepted.
	ErrMissingIdempotencyKey = errors.New("change missing idempotency key")
	ErrMissingChangeType     = errors.New("change missing change type")
)

// ChangePayload is the structured form of PendingAdChange.Payload.
// Budget changes carry a target; pause/resume carry nothing; creative
// replacement carries the winner pattern IDs used as conditioning.
type ChangePayload struct {
	TargetBudgetCents *int64   `json:"target_budget_cents,omitempty"`
	WinnerPatternIDs  []string `json:"winner_pattern_ids,omitempty"`
}

// Marshal encodes the payload for storage.
func (p ChangePayload) Marshal() (json.RawMessage, error) {
	return json.Marshal(p)
}

// ParsePayload decodes a stored payload.
func ParsePayload(raw json.RawMessage) (ChangePayload, error) {
	var p ChangePayload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

// PlatformChangeRequest is one mutation sent to the ad platform.
// IdempotencyKey is forwarded so the platform can deduplicate retries of
// the same change across worker crashes.
type PlatformChangeRequest struct {
	ChangeID       string
	AdID           string
	AccountID      string
	ChangeType     models.ChangeType
	IdempotencyKey string
	Payload        ChangePayload
}

// PlatformChangeResult is the outcome of applying one change.
type PlatformChangeResult struct {
	ChangeID  string
	Success   bool
	Retryable bool
	Err       error
}

// PlatformClient is the outbound boundary to the ad platform. Batching is
// an optimization the executor applies only when a run of claimed rows
// targets the same account and reaches batch_threshold; otherwise it
// issues serial per-row calls via ApplyChange.
type PlatformClient interface {
	ApplyChange(ctx context.Context, req PlatformChangeRequest) PlatformChangeResult
	ApplyBatch(ctx context.Context, reqs []PlatformChangeRequest) []PlatformChangeResult
}

// Store is the durable boundary the executor depends on: the pending
// change queue, its append-only audit trail, and the account-scoped
// rate/velocity counters derived from it.
type Store interface {
	// Enqueue inserts a new change, or returns the existing id as a
	// no-op if idempotency_key already has a non-dead record.
	Enqueue(ctx context.Context, change *models.PendingAdChange) (id string, deduped bool, err error)

	// Claim atomically selects up to batchSize pending rows whose
	// earliest_execute_at has passed, marks them claimed with a
	// deadline, and returns them ordered by earliest_execute_at.
	Claim(ctx context.Context, workerID string, batchSize int, claimTimeout time.Duration) ([]*models.PendingAdChange, error)

	MarkApplied(ctx context.Context, id string, appliedAt time.Time) error
	Requeue(ctx context.Context, id string, earliestExecuteAt time.Time, attempts int, lastErr string) error
	MarkDead(ctx context.Context, id string, reason string) error

	RecordHistory(ctx context.Context, h *models.ChangeHistory) error

	// RecentAppliedCount counts changes applied for accountID since the
	// given time, used by the rate-cap check.
	RecentAppliedCount(ctx context.Context, accountID string, since time.Time) (int, error)

	// RecentBudgetVelocityCents sums absolute applied budget deltas for
	// accountID since the given time, used by the velocity-cap check.
	RecentBudgetVelocityCents(ctx context.Context, accountID string, since time.Time) (int64, error)

	// CurrentBudgetCents returns the ad's current budget, the basis
	// against which a target budget's delta is measured.
	CurrentBudgetCents(ctx context.Context, adID string) (int64, error)

	// ReclaimExpiredClaims resets rows still claimed past their
	// claim_deadline back to pending, recovering from worker crashes.
	ReclaimExpiredClaims(ctx context.Context, now time.Time) (int, error)

	// QueueDepths counts pending_ad_changes rows grouped by status.
	QueueDepths(ctx context.Context) (map[string]int, error)
}

// Alerter is notified when a change reaches the dead state, the signal
// the alerting package turns into a Slack notification.
type Alerter interface {
	NotifyDeadChange(ctx context.Context, change *models.PendingAdChange, reason string)
}
