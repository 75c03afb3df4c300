package services

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecommendationReader struct {
	byAccount map[string][]RecommendationRecord
}

func (f *fakeRecommendationReader) ListRecommendations(ctx context.Context, accountID string) ([]RecommendationRecord, error) {
	return f.byAccount[accountID], nil
}

type fakeChangeReader struct {
	byAccount map[string][]models.PendingAdChange
}

func (f *fakeChangeReader) ListChanges(ctx context.Context, accountID, status string) ([]models.PendingAdChange, error) {
	var out []models.PendingAdChange
	for _, c := range f.byAccount[accountID] {
		if status == "" || string(c.Status) == status {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeTrigger struct {
	calledTenant string
	err          error
}

func (f *fakeTrigger) TriggerNow(ctx context.Context, tenantID string) error {
	f.calledTenant = tenantID
	return f.err
}

func TestQueryService_Recommendations_RequiresAccountID(t *testing.T) {
	svc := NewQueryService(&fakeRecommendationReader{}, &fakeChangeReader{}, nil)
	_, err := svc.Recommendations(context.Background(), "")
	assert.True(t, IsValidationError(err))
}

func TestQueryService_Recommendations_ReturnsAccountRecords(t *testing.T) {
	reader := &fakeRecommendationReader{byAccount: map[string][]RecommendationRecord{
		"acct-1": {{AdID: "ad-1", Action: "scale"}},
	}}
	svc := NewQueryService(reader, &fakeChangeReader{}, nil)

	recs, err := svc.Recommendations(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ad-1", recs[0].AdID)
}

func TestQueryService_Changes_FiltersByStatus(t *testing.T) {
	reader := &fakeChangeReader{byAccount: map[string][]models.PendingAdChange{
		"acct-1": {
			{AdID: "ad-1", Status: models.ChangeStatusApplied},
			{AdID: "ad-2", Status: models.ChangeStatusPending},
		},
	}}
	svc := NewQueryService(&fakeRecommendationReader{}, reader, nil)

	changes, err := svc.Changes(context.Background(), "acct-1", string(models.ChangeStatusPending))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "ad-2", changes[0].AdID)
}

func TestQueryService_TriggerCycle_RequiresConfiguredTrigger(t *testing.T) {
	svc := NewQueryService(&fakeRecommendationReader{}, &fakeChangeReader{}, nil)
	err := svc.TriggerCycle(context.Background(), "tenant-1")
	assert.Error(t, err)
}

func TestQueryService_TriggerCycle_DelegatesToTrigger(t *testing.T) {
	trigger := &fakeTrigger{}
	svc := NewQueryService(&fakeRecommendationReader{}, &fakeChangeReader{}, trigger)

	require.NoError(t, svc.TriggerCycle(context.Background(), "tenant-1"))
	assert.Equal(t, "tenant-1", trigger.calledTenant)
}
