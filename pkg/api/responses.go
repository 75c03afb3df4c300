package api

import "time"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Database *DatabaseHealth `json:"database,omitempty"`
}

// DatabaseHealth summarizes GET /health's database check.
type DatabaseHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AcceptedResponse is returned by the asynchronous feedback endpoints.
type AcceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// RegisterWinnerResponse is returned by POST /creative/register-winner.
type RegisterWinnerResponse struct {
	Accepted bool `json:"accepted"`
}

// RecommendationResponse is one element of GET /recommendations.
type RecommendationResponse struct {
	ID                string    `json:"id"`
	CycleID           string    `json:"cycle_id"`
	AdID              string    `json:"ad_id"`
	AccountID         string    `json:"account_id"`
	Action            string    `json:"action"`
	RecommendedBudget int64     `json:"recommended_budget_cents"`
	PreviousBudget    int64     `json:"previous_budget_cents"`
	Confidence        float64   `json:"confidence"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// ChangeResponse is one element of GET /changes.
type ChangeResponse struct {
	ID             string     `json:"id"`
	AdID           string     `json:"ad_id"`
	AccountID      string     `json:"account_id"`
	ChangeType     string     `json:"change_type"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	IdempotencyKey string     `json:"idempotency_key"`
	Reason         string     `json:"reason"`
	CreatedAt      time.Time  `json:"created_at"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	Error          *string    `json:"error,omitempty"`
}

// SimilarWinnerResponse is one element of GET /winners/similar.
type SimilarWinnerResponse struct {
	PatternID  string  `json:"pattern_id"`
	AdID       string  `json:"ad_id"`
	AccountID  string  `json:"account_id"`
	Similarity float64 `json:"similarity"`
	HookStyle  string  `json:"hook_style"`
	CTA        string  `json:"cta"`
	Niche      string  `json:"niche"`
}

// TriggerResponse is returned by POST /scheduler/trigger.
type TriggerResponse struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}
