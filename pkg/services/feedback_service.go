package services

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/attribution"
	"github.com/codeready-toolchain/adengine/pkg/cache"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/codeready-toolchain/adengine/pkg/sampler"
	"github.com/codeready-toolchain/adengine/pkg/scorer"
	"github.com/google/uuid"
)

// clickFeedbackWeight and noClickFeedbackWeight are the posterior
// update weights applied to direct ad-platform signal, which carries
// full confidence.
const (
	clickFeedbackWeight   = 1.0
	noClickFeedbackWeight = 1.0
)

// StageChangeInput is the domain-level form of a CRM stage-change
// webhook, transformed from the HTTP body by the handler.
type StageChangeInput struct {
	TenantID       string
	DealID         string
	StageFrom      string
	StageTo        string
	DealValueCents *int64
	Timestamp      time.Time

	IdentityFingerprint string
	IP                  string
	UserAgent           string
	FBClickID           string
}

// MetricUpdate is one ad's incremental platform metrics, part of a
// batched /feedback/metric-update request.
type MetricUpdate struct {
	AdID             string
	ImpressionsDelta int64
	ClicksDelta      int64
	SpendDeltaCents  int64
	ObservedAt       time.Time
}

// AttributionRecorder persists the records an attribution pass produces.
// attribution.PostgresStore satisfies this by its SaveAttributionRecords
// method alone.
type AttributionRecorder interface {
	SaveAttributionRecords(ctx context.Context, records []models.AttributionRecord) error
}

// AdStateStore is the AdState mutation boundary fed by feedback ingress.
type AdStateStore interface {
	// ApplyMetricDeltas accumulates impressions/clicks/spend onto adID's
	// state and refreshes its age as of observedAt. Deltas are always
	// non-negative; callers never decrease the monotonic counters.
	ApplyMetricDeltas(ctx context.Context, adID string, impressionsDelta, clicksDelta, spendDeltaCents int64, observedAt time.Time) error

	// AddSyntheticRevenue adds deltaCents to adID's synthetic pipeline
	// revenue.
	AddSyntheticRevenue(ctx context.Context, adID string, deltaCents int64) error

	// ApplyDailyStats upserts the day's incremental impressions/clicks/
	// spend for adID, the rollup the fatigue detector reads.
	ApplyDailyStats(ctx context.Context, adID string, day time.Time, impressionsDelta, clicksDelta, spendDeltaCents int64) error

	// GetPosterior returns adID's current Beta(alpha, beta) Thompson
	// sampling posterior.
	GetPosterior(ctx context.Context, adID string) (alpha, beta float64, err error)

	// SetPosterior persists adID's updated Beta posterior.
	SetPosterior(ctx context.Context, adID string, alpha, beta float64) error
}

// FeedbackService turns the two inbound feedback endpoints
// into AdState and attribution-record mutations, serialized per ad
// through the Redis advisory lock.
type FeedbackService struct {
	attributor *attribution.Attributor
	recorder   AttributionRecorder
	adStates   AdStateStore
	lock       *cache.AdLock
	allocator  *sampler.Allocator
	scorer     *scorer.Scorer
}

// NewFeedbackService wires the Synthetic-Revenue Attributor, AdState
// store, Thompson-sampling posterior updater, and score cache behind the
// feedback endpoints.
func NewFeedbackService(attributor *attribution.Attributor, recorder AttributionRecorder, adStates AdStateStore, lock *cache.AdLock, allocator *sampler.Allocator, scorer *scorer.Scorer) *FeedbackService {
	if attributor == nil || recorder == nil || adStates == nil || lock == nil || allocator == nil || scorer == nil {
		panic("NewFeedbackService: all dependencies are required")
	}
	return &FeedbackService{attributor: attributor, recorder: recorder, adStates: adStates, lock: lock, allocator: allocator, scorer: scorer}
}

// IngestStageChange attributes a CRM stage-change event to the ad(s)
// that plausibly drove it and applies the resulting synthetic-revenue
// deltas. Returns an event id for the caller's 202 response; processing
// itself is synchronous, but idempotent on (deal_id, stage_to) the same
// as an async consumer would be.
func (s *FeedbackService) IngestStageChange(ctx context.Context, input StageChangeInput) (string, error) {
	if input.TenantID == "" {
		return "", NewValidationError("tenant_id", "tenant_id is required")
	}
	if input.DealID == "" {
		return "", NewValidationError("deal_id", "deal_id is required")
	}
	if input.StageTo == "" {
		return "", NewValidationError("stage_to", "stage_to is required")
	}

	fingerprint := input.IdentityFingerprint
	if fingerprint == "" {
		fingerprint = input.FBClickID
	}

	event := attribution.Event{
		TenantID:            input.TenantID,
		DealID:              input.DealID,
		StageFrom:           input.StageFrom,
		StageTo:             input.StageTo,
		DealValueCents:      input.DealValueCents,
		Timestamp:           input.Timestamp,
		IdentityFingerprint: fingerprint,
		IP:                  input.IP,
		UserAgent:           input.UserAgent,
	}

	records, err := s.attributor.Attribute(ctx, event)
	if err != nil {
		return "", fmt.Errorf("attributing stage change: %w", err)
	}

	eventID := uuid.NewString()
	if len(records) == 0 {
		return eventID, nil
	}

	if err := s.recorder.SaveAttributionRecords(ctx, records); err != nil {
		return "", fmt.Errorf("saving attribution records: %w", err)
	}

	for _, r := range records {
		if err := s.applySyntheticRevenue(ctx, r.AdID, r.DeltaValueCents, r.Confidence); err != nil {
			return "", err
		}
	}
	return eventID, nil
}

// applySyntheticRevenue applies one attribution record's revenue share to
// its ad's state. A positive share is a success-like outcome (the
// Attributor never emits a record with a non-positive share), so it
// also strengthens the ad's Thompson posterior, weighted by the
// record's attribution confidence.
func (s *FeedbackService) applySyntheticRevenue(ctx context.Context, adID string, deltaCents int64, confidence float64) error {
	handle, err := s.lock.Acquire(ctx, adID)
	if err != nil {
		return fmt.Errorf("acquiring ad lock for %s: %w", adID, err)
	}
	defer func() { _ = s.lock.Unlock(context.Background(), handle) }()

	if err := s.adStates.AddSyntheticRevenue(ctx, adID, deltaCents); err != nil {
		return fmt.Errorf("applying synthetic revenue for ad %s: %w", adID, err)
	}

	if deltaCents > 0 {
		if err := s.registerFeedback(ctx, adID, sampler.OutcomeSuccess, confidence); err != nil {
			return err
		}
	}

	s.scorer.InvalidateAd(adID)
	return nil
}

// registerFeedback loads adID's current Beta posterior, applies the
// Allocator's in-memory α/β update, and persists the result. Called
// under the per-ad Redis lock the caller already holds, so the read and
// write around the Allocator's own per-ad mutex race with nothing else.
func (s *FeedbackService) registerFeedback(ctx context.Context, adID string, outcome sampler.FeedbackOutcome, weight float64) error {
	alpha, beta, err := s.adStates.GetPosterior(ctx, adID)
	if err != nil {
		return fmt.Errorf("loading posterior for ad %s: %w", adID, err)
	}
	s.allocator.RegisterFeedback(adID, &alpha, &beta, outcome, weight)
	if err := s.adStates.SetPosterior(ctx, adID, alpha, beta); err != nil {
		return fmt.Errorf("persisting posterior for ad %s: %w", adID, err)
	}
	return nil
}

// IngestMetricUpdates applies a batch of ad-platform metric deltas, each
// under its own ad's advisory lock so concurrent batches never race on
// the same counters.
func (s *FeedbackService) IngestMetricUpdates(ctx context.Context, updates []MetricUpdate) error {
	for _, u := range updates {
		if u.AdID == "" {
			return NewValidationError("ad_id", "ad_id is required")
		}
		if u.ImpressionsDelta < 0 || u.ClicksDelta < 0 || u.SpendDeltaCents < 0 {
			return NewValidationError("delta", "metric deltas must be non-negative")
		}

		handle, err := s.lock.Acquire(ctx, u.AdID)
		if err != nil {
			return fmt.Errorf("acquiring ad lock for %s: %w", u.AdID, err)
		}

		observedAt := u.ObservedAt
		if observedAt.IsZero() {
			observedAt = time.Now()
		}
		err = s.adStates.ApplyMetricDeltas(ctx, u.AdID, u.ImpressionsDelta, u.ClicksDelta, u.SpendDeltaCents, observedAt)
		if err == nil {
			err = s.adStates.ApplyDailyStats(ctx, u.AdID, observedAt, u.ImpressionsDelta, u.ClicksDelta, u.SpendDeltaCents)
		}
		if err == nil {
			// Click is the success-like outcome; a batch of impressions
			// with zero clicks is the failure-like outcome (no click by
			// the time this update was observed). Direct platform metrics
			// carry full confidence, so weight is fixed rather than
			// scaled by an attribution tier.
			switch {
			case u.ClicksDelta > 0:
				err = s.registerFeedback(ctx, u.AdID, sampler.OutcomeSuccess, clickFeedbackWeight*float64(u.ClicksDelta))
			case u.ImpressionsDelta > 0:
				err = s.registerFeedback(ctx, u.AdID, sampler.OutcomeFailure, noClickFeedbackWeight)
			}
		}
		if err == nil {
			s.scorer.InvalidateAd(u.AdID)
		}
		_ = s.lock.Unlock(context.Background(), handle)
		if err != nil {
			return fmt.Errorf("applying metric deltas for ad %s: %w", u.AdID, err)
		}
	}
	return nil
}
