package services

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// RecommendationReader is the read boundary for GET /recommendations.
// PostgresStore satisfies this by its ListRecommendations method alone.
type RecommendationReader interface {
	ListRecommendations(ctx context.Context, accountID string) ([]RecommendationRecord, error)
}

// ChangeReader is the read boundary for GET /changes. PostgresStore
// satisfies this by its ListChanges method alone.
type ChangeReader interface {
	ListChanges(ctx context.Context, accountID, status string) ([]models.PendingAdChange, error)
}

// Trigger runs a scheduler decision cycle on demand, outside its fixed
// cadence. scheduler.Scheduler satisfies this by its TriggerNow method
// alone, so this package never imports pkg/scheduler.
type Trigger interface {
	TriggerNow(ctx context.Context, tenantID string) error
}

// QueryService answers the GET /recommendations and GET /changes
// query endpoints and the out-of-cadence scheduler trigger.
type QueryService struct {
	recommendations RecommendationReader
	changes         ChangeReader
	trigger         Trigger
}

// NewQueryService wires the recommendation/change readers and the
// scheduler trigger behind the query endpoints.
func NewQueryService(recommendations RecommendationReader, changes ChangeReader, trigger Trigger) *QueryService {
	if recommendations == nil || changes == nil {
		panic("NewQueryService: recommendations and changes readers are required")
	}
	return &QueryService{recommendations: recommendations, changes: changes, trigger: trigger}
}

// Recommendations answers GET /recommendations?account_id.
func (s *QueryService) Recommendations(ctx context.Context, accountID string) ([]RecommendationRecord, error) {
	if accountID == "" {
		return nil, NewValidationError("account_id", "account_id is required")
	}
	recs, err := s.recommendations.ListRecommendations(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing recommendations for account %s: %w", accountID, err)
	}
	return recs, nil
}

// Changes answers GET /changes?account_id&status.
func (s *QueryService) Changes(ctx context.Context, accountID, status string) ([]models.PendingAdChange, error) {
	if accountID == "" {
		return nil, NewValidationError("account_id", "account_id is required")
	}
	changes, err := s.changes.ListChanges(ctx, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("listing changes for account %s: %w", accountID, err)
	}
	return changes, nil
}

// TriggerCycle runs tenantID's decision cycle immediately, outside its
// fixed cadence. Returns an error if no trigger was wired (scheduler
// disabled) or tenantID is unknown.
func (s *QueryService) TriggerCycle(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return NewValidationError("tenant_id", "tenant_id is required")
	}
	if s.trigger == nil {
		return fmt.Errorf("scheduler trigger not configured")
	}
	if err := s.trigger.TriggerNow(ctx, tenantID); err != nil {
		return fmt.Errorf("triggering decision cycle for tenant %s: %w", tenantID, err)
	}
	return nil
}
