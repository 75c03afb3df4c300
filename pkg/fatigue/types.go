// Package fatigue flags ads whose performance has materially degraded
// and emits remediation intents (budget cuts, pauses, creative
// replacement requests) onto the durable change queue. It runs on a
// periodic scheduling tick.
package fatigue

import (
	"context"
	"time"
)

// DailyStats is one day's rollup for an ad, the unit the fatigue rules
// are evaluated over.
type DailyStats struct {
	Date        time.Time
	Impressions int64
	Clicks      int64
	Conversions int64
	SpendCents  int64
}

// CPM returns cost per mille for the day, guarded against zero
// impressions.
func (d DailyStats) CPM() float64 {
	if d.Impressions == 0 {
		return 0
	}
	return float64(d.SpendCents) / float64(d.Impressions) * 1000
}

// CTR returns click-through rate for the day, guarded against zero
// impressions.
func (d DailyStats) CTR() float64 {
	if d.Impressions == 0 {
		return 0
	}
	return float64(d.Clicks) / float64(d.Impressions)
}

// Candidate is one ad under fatigue evaluation.
type Candidate struct {
	AdID      string
	AccountID string
	TenantID  string

	// CurrentBudgetCents is the ad's live budget, the basis for the
	// remediation cut.
	CurrentBudgetCents int64

	// History is daily stats ordered oldest-first, covering at most
	// the last 14 days (the longest window any rule needs).
	History []DailyStats

	CumulativeImpressions int64
	CumulativeConversions int64
}

// Thresholds are the tenant-tunable fatigue parameters from
// config.TenantConfig.
type Thresholds struct {
	MinWindowImpressions int64
	MaxImpressions       int64 // I_max, the saturation ceiling
	FlatlineImpressions  int64 // N, cohort-scaled zero-conversion window
	BudgetDecreasePct    float64
	BudgetFloorCents     int64
}

// DefaultThresholds returns the built-in rule defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinWindowImpressions: 10000,
		MaxImpressions:       2000000,
		FlatlineImpressions:  50000,
		BudgetDecreasePct:    0.30,
		BudgetFloorCents:     500,
	}
}

// Store is the read boundary the Detector depends on: candidate ads and
// their rolling daily stats for one tenant.
type Store interface {
	ActiveCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]Candidate, error)
}

// Queue is the write boundary: remediation intents land here as
// PendingAdChanges, the same durable queue the Safe Executor drains.
type Queue interface {
	EnqueueBudgetDecrease(ctx context.Context, c Candidate, newBudgetCents int64, reason string) error
	EnqueuePause(ctx context.Context, c Candidate, reason string) error
}

// CreativeRequester asks the upstream creative generator for a
// replacement, conditioned on the account's best-performing patterns.
type CreativeRequester interface {
	RequestReplacement(ctx context.Context, accountID string, topWinners []string, reason string) error
}

// WinnerSearcher finds the account's top nearest-performing patterns to
// hand the creative generator as conditioning examples.
type WinnerSearcher interface {
	TopPatternIDs(ctx context.Context, accountID string, k int) ([]string, error)
}

// Alerter is notified when a fatigue evaluation reaches severity 2 or
// higher (pause-and-replace territory), the signal the alerting package
// turns into a Slack notification.
type Alerter interface {
	NotifyFatigueSeverity(ctx context.Context, c Candidate, severity int, reason string)
}
