package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/identity"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/google/uuid"
)

const (
	fingerprintWindow = 30 * 24 * time.Hour
	ipWindow          = 7 * 24 * time.Hour
	timeDecayWindow   = 30 * 24 * time.Hour

	fingerprintConfidence  = 0.9
	ipConfidence           = 0.7
	timeDecayConfidenceCap = 0.4

	// decayLambda is ln(2)/7, giving a 7-day half-life for the
	// time-decay tier's recency weight.
	decayLambda = math.Ln2 / 7

	defaultDealValueCents = 50000
)

// Attributor converts CRM stage-change events into synthetic-revenue
// AttributionRecords, matched back to the ads that plausibly drove them.
type Attributor struct {
	tenants *config.TenantRegistry
	store   Store
	hasher  *identity.Hasher
	now     func() time.Time
}

// New creates an Attributor. tenants supplies per-tenant stage value
// tables; store is the identity-signal and idempotency backend; hasher
// turns raw fingerprint/IP signals into match keys.
func New(tenants *config.TenantRegistry, store Store, hasher *identity.Hasher) *Attributor {
	return &Attributor{tenants: tenants, store: store, hasher: hasher, now: time.Now}
}

// Attribute processes one CRM stage-change event and returns zero or more
// attribution records, one per ad that received a share of the
// incremental synthetic revenue.
func (a *Attributor) Attribute(ctx context.Context, event Event) ([]models.AttributionRecord, error) {
	already, err := a.store.HasAttribution(ctx, event.DealID, event.StageTo)
	if err != nil {
		return nil, fmt.Errorf("checking attribution idempotency: %w", err)
	}
	if already {
		return nil, nil
	}

	tenant, err := a.tenants.Get(event.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant config: %w", err)
	}
	stageConfig := tenant.StageConfig()

	toValue, ok := stageConfig.Value(event.StageTo)
	if !ok {
		slog.Warn("attribution event references unknown stage, ignoring",
			"tenant_id", event.TenantID, "deal_id", event.DealID, "stage_to", event.StageTo)
		return nil, nil
	}

	fromValue := models.StageValue{}
	if event.StageFrom != "" {
		if v, ok := stageConfig.Value(event.StageFrom); ok {
			fromValue = v
		}
	}

	incremental := toValue.ValuePercentage - fromValue.ValuePercentage
	if incremental <= 0 {
		return nil, nil
	}

	dealValueBasis, err := a.resolveDealValueBasis(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resolving deal value basis: %w", err)
	}

	syntheticCents := int64(math.Round(incremental * float64(dealValueBasis)))
	if syntheticCents <= 0 {
		return nil, nil
	}

	candidates, tier, confidence, err := a.match(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("matching identity signals: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return a.buildRecords(event, candidates, tier, confidence, syntheticCents), nil
}

// resolveDealValueBasis picks, in order: the event's own deal value, the
// tenant's rolling average, or the system default constant.
func (a *Attributor) resolveDealValueBasis(ctx context.Context, event Event) (int64, error) {
	if event.DealValueCents != nil {
		return *event.DealValueCents, nil
	}
	avg, ok, err := a.store.RollingAverageDealValueCents(ctx, event.TenantID, 30*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if ok {
		return avg, nil
	}
	return defaultDealValueCents, nil
}

// match runs the three-pass matcher, stopping at the first tier that
// yields a hit within its window. Windows are anchored on the event's
// own timestamp, not processing time: webhook delivery is asynchronous,
// and a delayed event must see the same candidate set it would have
// seen at the moment the stage change actually happened.
func (a *Attributor) match(ctx context.Context, event Event) ([]CandidateAd, models.ConfidenceTier, float64, error) {
	asOf := a.eventTime(event)

	if event.IdentityFingerprint != "" {
		key := a.hasher.FingerprintKey(event.IdentityFingerprint)
		matches, err := a.store.FingerprintMatches(ctx, event.TenantID, key, asOf.Add(-fingerprintWindow))
		if err != nil {
			return nil, "", 0, err
		}
		if len(matches) > 0 {
			return matches, models.ConfidenceFingerprint, fingerprintConfidence, nil
		}
	}

	if event.IP != "" {
		key := a.hasher.IPKey(event.IP, event.UserAgent)
		matches, err := a.store.IPMatches(ctx, event.TenantID, key, asOf.Add(-ipWindow))
		if err != nil {
			return nil, "", 0, err
		}
		if len(matches) > 0 {
			return matches, models.ConfidenceIPAndTime, ipConfidence, nil
		}
	}

	matches, err := a.store.RecentlyActiveAds(ctx, event.TenantID, asOf.Add(-timeDecayWindow))
	if err != nil {
		return nil, "", 0, err
	}
	return matches, models.ConfidenceTimeDecay, timeDecayConfidenceCap, nil
}

// eventTime is the anchor for all window and recency math: the event's
// own timestamp, falling back to processing time when a webhook omits
// it.
func (a *Attributor) eventTime(event Event) time.Time {
	if event.Timestamp.IsZero() {
		return a.now()
	}
	return event.Timestamp
}

// weight returns the recency weight used both to rank time-decay
// candidates and to split ties proportionally within any tier.
func (a *Attributor) weight(candidate CandidateAd, asOf time.Time) float64 {
	ageDays := asOf.Sub(candidate.SeenAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-decayLambda * ageDays)
}

func (a *Attributor) buildRecords(event Event, candidates []CandidateAd, tier models.ConfidenceTier, confidence float64, syntheticCents int64) []models.AttributionRecord {
	now := a.now()

	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := a.weight(c, a.eventTime(event))
		weights[i] = w
		total += w
	}
	if total == 0 {
		// All candidates expired beyond any meaningful weight; split evenly.
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	records := make([]models.AttributionRecord, 0, len(candidates))
	var allocated int64
	for i, c := range candidates {
		share := int64(math.Round(float64(syntheticCents) * weights[i] / total))
		if i == len(candidates)-1 {
			// Last candidate absorbs any rounding remainder so shares sum exactly.
			share = syntheticCents - allocated
		}
		allocated += share

		recordConfidence := confidence
		if tier == models.ConfidenceTimeDecay {
			recordConfidence = math.Min(timeDecayConfidenceCap, weights[i]/total)
		}

		records = append(records, models.AttributionRecord{
			ID:              uuid.NewString(),
			DealID:          event.DealID,
			StageFrom:       event.StageFrom,
			StageTo:         event.StageTo,
			DeltaValueCents: share,
			AdID:            c.AdID,
			ConfidenceTier:  tier,
			Confidence:      recordConfidence,
			CreatedAt:       now,
		})
	}
	return records
}
