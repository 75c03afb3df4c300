package models

import "time"

// ConfidenceTier identifies how a CRM stage change was attributed back to
// an ad, from strongest to weakest evidence.
type ConfidenceTier string

// Attribution confidence tiers, in descending strength.
const (
	ConfidenceFingerprint ConfidenceTier = "fingerprint"
	ConfidenceIPAndTime   ConfidenceTier = "ip+time"
	ConfidenceTimeDecay   ConfidenceTier = "time-decay"
)

// AttributionRecord is the synthetic-revenue attribution of a single CRM
// stage transition to a single ad.
type AttributionRecord struct {
	ID              string
	DealID          string
	StageFrom       string
	StageTo         string
	DeltaValueCents int64
	AdID            string
	ConfidenceTier  ConfidenceTier
	Confidence      float64
	CreatedAt       time.Time
}
