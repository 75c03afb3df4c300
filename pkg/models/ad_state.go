package models

import (
	"fmt"
	"time"
)

// AdState holds the mutable per-ad statistics used by the scorer and
// sampler. It is created the first time an ad is seen and is never
// destroyed — status transitions happen on Ad, not AdState.
//
// Invariant: Alpha >= 1, Beta >= 1, Impressions >= Clicks >= 0.
type AdState struct {
	AdID                  string
	Impressions           int64
	Clicks                int64
	SpendCents            int64
	ObservedRevenueCents  int64
	SyntheticRevenueCents int64
	AgeHours              float64
	LastUpdatedAt         time.Time

	// Alpha, Beta are the Beta posterior parameters for Thompson sampling.
	Alpha float64
	Beta  float64

	// ConsecutiveLowROASEvals counts how many scheduler cycles in a row
	// this ad's pipeline ROAS has landed below the kill threshold. The
	// scheduler reads and updates it each cycle; the allocator's kill
	// rule fires once it reaches the tenant's configured count.
	ConsecutiveLowROASEvals int
}

// NewAdState creates the initial state for a newly observed ad, with an
// uninformative Beta(1,1) prior.
func NewAdState(adID string, now time.Time) *AdState {
	return &AdState{
		AdID:          adID,
		Alpha:         1,
		Beta:          1,
		LastUpdatedAt: now,
	}
}

// Validate checks the invariants that must hold for any AdState produced
// by the Attributor or feedback ingress.
func (s *AdState) Validate() error {
	if s.Alpha < 1 {
		return fmt.Errorf("%w: alpha %.4f < 1", ErrInvalidAdState, s.Alpha)
	}
	if s.Beta < 1 {
		return fmt.Errorf("%w: beta %.4f < 1", ErrInvalidAdState, s.Beta)
	}
	if s.Clicks < 0 {
		return fmt.Errorf("%w: negative clicks %d", ErrInvalidAdState, s.Clicks)
	}
	if s.Clicks > s.Impressions {
		return fmt.Errorf("%w: clicks %d exceed impressions %d", ErrInvalidAdState, s.Clicks, s.Impressions)
	}
	return nil
}

// PipelineRevenueCents is observed (closed-deal) plus synthetic (imputed
// pipeline) revenue, the numerator of pipeline ROAS.
func (s *AdState) PipelineRevenueCents() int64 {
	return s.ObservedRevenueCents + s.SyntheticRevenueCents
}

// CTR is clicks/impressions, guarded against division by zero.
func (s *AdState) CTR() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Impressions)
}

// PipelineROAS is pipeline revenue over spend, guarded against division by
// zero.
func (s *AdState) PipelineROAS() float64 {
	if s.SpendCents == 0 {
		return 0
	}
	return float64(s.PipelineRevenueCents()) / float64(s.SpendCents)
}
