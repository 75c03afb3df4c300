// Package attribution turns CRM stage-change events into synthetic-revenue
// feedback for the scorer: it values the incremental pipeline movement,
// matches it back to the ad(s) that plausibly drove it, and splits the
// value across ties within the winning match tier.
package attribution

import (
	"context"
	"time"
)

// Event is a single CRM stage-change notification.
type Event struct {
	TenantID  string
	DealID    string
	StageFrom string
	StageTo   string

	// DealValueCents is the deal's known value, if the CRM supplied one.
	DealValueCents *int64

	Timestamp time.Time

	IdentityFingerprint string
	IP                  string
	UserAgent           string
}

// CandidateAd is an ad eligible to receive attributed value, along with
// the moment its identity signal was last observed (used for the
// time-decay weight).
type CandidateAd struct {
	AdID      string
	AccountID string
	SeenAt    time.Time
}

// Store is the persistence boundary the Attributor depends on: identity
// signal lookups, idempotency checks, and the tenant's rolling deal-value
// basis.
type Store interface {
	// FingerprintMatches returns ads whose fingerprint key was observed
	// for tenantID at or after since.
	FingerprintMatches(ctx context.Context, tenantID, fingerprintKey string, since time.Time) ([]CandidateAd, error)

	// IPMatches returns ads whose IP+user-agent key was observed for
	// tenantID at or after since.
	IPMatches(ctx context.Context, tenantID, ipKey string, since time.Time) ([]CandidateAd, error)

	// RecentlyActiveAds returns every ad that received any impression or
	// click signal for tenantID at or after since, the fallback
	// candidate pool for the time-decay tier.
	RecentlyActiveAds(ctx context.Context, tenantID string, since time.Time) ([]CandidateAd, error)

	// HasAttribution reports whether an attribution record already exists
	// for (dealID, stageTo), making attribute() idempotent under event
	// re-delivery.
	HasAttribution(ctx context.Context, dealID, stageTo string) (bool, error)

	// RollingAverageDealValueCents returns the tenant's trailing median
	// deal value over window, used as the deal-value basis when the event
	// carries none. Returns (0, false) when there is no history yet.
	RollingAverageDealValueCents(ctx context.Context, tenantID string, window time.Duration) (int64, bool, error)
}
