package fatigue

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	changes []*models.PendingAdChange
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, change *models.PendingAdChange) (string, bool, error) {
	f.changes = append(f.changes, change)
	return "change-id", false, nil
}

func TestEnqueueAdapter_EnqueueBudgetDecrease_SetsChangeTypeAndIdempotencyKey(t *testing.T) {
	enq := &fakeEnqueuer{}
	adapter := NewEnqueueAdapter(enq)

	c := Candidate{AdID: "ad-1", AccountID: "acct-1", TenantID: "tenant-1"}
	err := adapter.EnqueueBudgetDecrease(context.Background(), c, 700, "ctr decline")
	require.NoError(t, err)

	require.Len(t, enq.changes, 1)
	change := enq.changes[0]
	assert.Equal(t, models.ChangeTypeBudgetDecrease, change.ChangeType)
	assert.Equal(t, "ad-1", change.AdID)
	assert.Equal(t, "ctr decline", change.Reason)
	assert.Contains(t, change.IdempotencyKey, "fatigue:ad-1:budget_decrease:")
	assert.Contains(t, string(change.Payload), "700")
}

func TestEnqueueAdapter_EnqueuePause_SetsChangeType(t *testing.T) {
	enq := &fakeEnqueuer{}
	adapter := NewEnqueueAdapter(enq)

	c := Candidate{AdID: "ad-2", AccountID: "acct-1", TenantID: "tenant-1"}
	err := adapter.EnqueuePause(context.Background(), c, "flatline")
	require.NoError(t, err)

	require.Len(t, enq.changes, 1)
	change := enq.changes[0]
	assert.Equal(t, models.ChangeTypePause, change.ChangeType)
	assert.Contains(t, change.IdempotencyKey, "fatigue:ad-2:pause:")
}
