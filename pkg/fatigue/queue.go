package fatigue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// Enqueuer is the write boundary this package borrows from the durable
// change queue. executor.PostgresStore.Enqueue satisfies it structurally,
// so remediation intents land in the same pending_ad_changes table the
// Safe Executor drains without this package depending on executor's
// other machinery (claim, requeue, dead-letter).
type Enqueuer interface {
	Enqueue(ctx context.Context, change *models.PendingAdChange) (string, bool, error)
}

// EnqueueAdapter turns fatigue remediation intents into PendingAdChanges
// and submits them through an Enqueuer, implementing Queue.
type EnqueueAdapter struct {
	enqueuer Enqueuer
}

// NewEnqueueAdapter wraps enqueuer (typically executor.PostgresStore) as
// a fatigue.Queue.
func NewEnqueueAdapter(enqueuer Enqueuer) *EnqueueAdapter {
	return &EnqueueAdapter{enqueuer: enqueuer}
}

// EnqueueBudgetDecrease submits a budget_decrease intent, idempotent per
// candidate per day so a detector tick that fires twice in one day
// (e.g. after a crash/restart) doesn't double-cut the budget.
func (a *EnqueueAdapter) EnqueueBudgetDecrease(ctx context.Context, c Candidate, newBudgetCents int64, reason string) error {
	payload, err := json.Marshal(struct {
		TargetBudgetCents int64 `json:"target_budget_cents"`
	}{TargetBudgetCents: newBudgetCents})
	if err != nil {
		return fmt.Errorf("marshaling budget decrease payload: %w", err)
	}

	now := time.Now()
	change := &models.PendingAdChange{
		TenantID:          c.TenantID,
		AdID:              c.AdID,
		AccountID:         c.AccountID,
		ChangeType:        models.ChangeTypeBudgetDecrease,
		Payload:           payload,
		Status:            models.ChangeStatusPending,
		EarliestExecuteAt: now,
		IdempotencyKey:    fmt.Sprintf("fatigue:%s:budget_decrease:%s", c.AdID, now.Format("2006-01-02")),
		Reason:            reason,
		CreatedAt:         now,
	}
	_, _, err = a.enqueuer.Enqueue(ctx, change)
	if err != nil {
		return fmt.Errorf("enqueueing fatigue budget decrease for ad %s: %w", c.AdID, err)
	}
	return nil
}

// EnqueuePause submits a pause intent for a severity-2+ evaluation,
// idempotent per candidate per day for the same reason as above.
func (a *EnqueueAdapter) EnqueuePause(ctx context.Context, c Candidate, reason string) error {
	now := time.Now()
	change := &models.PendingAdChange{
		TenantID:          c.TenantID,
		AdID:              c.AdID,
		AccountID:         c.AccountID,
		ChangeType:        models.ChangeTypePause,
		Status:            models.ChangeStatusPending,
		EarliestExecuteAt: now,
		IdempotencyKey:    fmt.Sprintf("fatigue:%s:pause:%s", c.AdID, now.Format("2006-01-02")),
		Reason:            reason,
		CreatedAt:         now,
	}
	_, _, err := a.enqueuer.Enqueue(ctx, change)
	if err != nil {
		return fmt.Errorf("enqueueing fatigue pause for ad %s: %w", c.AdID, err)
	}
	return nil
}
