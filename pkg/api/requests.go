package api

import "time"

// IdentityRequest is the optional identity-signal block on a stage-change
// webhook.
type IdentityRequest struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	FBClickID   string `json:"fbclid,omitempty"`
}

// StageChangeRequest is the HTTP body for POST /feedback/stage-change.
type StageChangeRequest struct {
	TenantID  string           `json:"tenant_id" binding:"required"`
	DealID    string           `json:"deal_id" binding:"required"`
	StageFrom string           `json:"stage_from,omitempty"`
	StageTo   string           `json:"stage_to" binding:"required"`
	DealValue *int64           `json:"deal_value,omitempty"`
	Timestamp time.Time        `json:"timestamp" binding:"required"`
	Identity  *IdentityRequest `json:"identity,omitempty"`
}

// MetricUpdateRequest is one element of the POST /feedback/metric-update
// batch body.
type MetricUpdateRequest struct {
	AdID             string    `json:"ad_id" binding:"required"`
	ImpressionsDelta int64     `json:"impressions_delta"`
	ClicksDelta      int64     `json:"clicks_delta"`
	SpendDeltaCents  int64     `json:"spend_delta_cents"`
	ObservedAt       time.Time `json:"observed_at"`
}

// RegisterWinnerRequest is the HTTP body for
// POST /creative/register-winner.
type RegisterWinnerRequest struct {
	TenantID     string    `json:"tenant_id" binding:"required"`
	AdID         string    `json:"ad_id" binding:"required"`
	AccountID    string    `json:"account_id" binding:"required"`
	CTR          float64   `json:"ctr"`
	PipelineROAS float64   `json:"pipeline_roas"`
	SpendCents   int64     `json:"spend_cents"`
	HookStyle    string    `json:"hook_style,omitempty"`
	CTA          string    `json:"cta,omitempty"`
	Niche        string    `json:"niche,omitempty"`
	Cohort       string    `json:"cohort,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Text         string    `json:"text,omitempty"`
}

// TriggerRequest is the HTTP body for POST /scheduler/trigger.
type TriggerRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}
