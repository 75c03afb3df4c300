package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/codeready-toolchain/adengine/pkg/sampler"
	"github.com/codeready-toolchain/adengine/pkg/scorer"
	"github.com/codeready-toolchain/adengine/pkg/telemetry"
)

const (
	defaultInterval      = 15 * time.Minute
	defaultCycleDeadline = 10 * time.Minute
)

// WinnerBooster supplies the scorer's DNA-similarity boost for an
// account, computed by the winner index. Optional: a nil booster leaves
// every ad's boost at its AdCandidate.DNABoost value (0, treated by the
// scorer as "no boost").
type WinnerBooster interface {
	BoostFor(ctx context.Context, accountID string) (float64, error)
}

// Scheduler runs the decision cycle: score, allocate, enqueue. It holds
// no per-cycle state between ticks — every cycle reloads candidates
// fresh, so a crash mid-cycle loses at most one cycle's recommendations,
// never correctness (the next cycle starts clean).
type Scheduler struct {
	tenants  *config.TenantRegistry
	store    Store
	queue    ChangeQueue
	scorer   *scorer.Scorer
	alloc    *sampler.Allocator
	recorder RecommendationRecorder
	winners  WinnerBooster

	interval      time.Duration
	cycleDeadline time.Duration

	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan triggerRequest
}

type triggerRequest struct {
	tenantID string
	result   chan error
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithRecommendationRecorder persists each cycle's recommendations for
// later GET /recommendations queries.
func WithRecommendationRecorder(r RecommendationRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithWinnerBooster wires the winner index's DNA-similarity boost into
// scoring.
func WithWinnerBooster(w WinnerBooster) Option {
	return func(s *Scheduler) { s.winners = w }
}

// WithCycleDeadline overrides the default 10-minute per-cycle deadline.
func WithCycleDeadline(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cycleDeadline = d
		}
	}
}

// New creates a Scheduler. interval <= 0 uses the default of 15
// minutes.
func New(tenants *config.TenantRegistry, store Store, queue ChangeQueue, sc *scorer.Scorer, alloc *sampler.Allocator, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Scheduler{
		tenants:       tenants,
		store:         store,
		queue:         queue,
		scorer:        sc,
		alloc:         alloc,
		interval:      interval,
		cycleDeadline: defaultCycleDeadline,
		trigger:       make(chan triggerRequest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background tick loop. Safe to call once; a second
// call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("scheduler started", "interval", s.interval, "cycle_deadline", s.cycleDeadline)
}

// Stop signals the tick loop to exit and waits for the current cycle
// (if any) to reach its next cancellation point.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("scheduler stopped")
}

// TriggerNow runs an out-of-cadence decision cycle for tenantID and
// waits for it to complete.
// It is safe to call concurrently with the background ticker; the
// per-tenant advisory lock arbitrates between them.
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID string) error {
	req := triggerRequest{tenantID: tenantID, result: make(chan error, 1)}
	select {
	case s.trigger <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.tickAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAll(ctx)
		case req := <-s.trigger:
			req.result <- s.Tick(ctx, req.tenantID, time.Now())
		}
	}
}

func (s *Scheduler) tickAll(ctx context.Context) {
	for tenantID := range s.tenants.GetAll() {
		if err := s.Tick(ctx, tenantID, time.Now()); err != nil {
			slog.Error("scheduler tick failed", "tenant_id", tenantID, "error", err)
		}
	}
}

// Tick runs one decision cycle for tenantID: acquire the per-tenant
// advisory lock, load a consistent AdState snapshot, score and allocate,
// and enqueue the resulting intents. An unprocessed ad on deadline is
// simply left at its previous budget; the next cycle retries it.
func (s *Scheduler) Tick(ctx context.Context, tenantID string, asOf time.Time) error {
	tenant, err := s.tenants.Get(tenantID)
	if err != nil {
		return fmt.Errorf("resolving tenant for scheduler tick: %w", err)
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleDeadline)
	defer cancel()

	release, acquired, err := s.store.AdvisoryLock(cycleCtx, tenantID)
	if err != nil {
		return fmt.Errorf("acquiring scheduler advisory lock: %w", err)
	}
	if !acquired {
		slog.Info("scheduler cycle skipped, another cycle already running for tenant", "tenant_id", tenantID)
		return nil
	}
	defer release()

	start := time.Now()
	cycleID := fmt.Sprintf("%s:%d", tenantID, asOf.Truncate(s.interval).Unix())

	candidates, err := s.store.LoadCandidates(cycleCtx, tenantID, asOf)
	if err != nil {
		return fmt.Errorf("loading scheduler candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	totalBudget, err := s.store.TotalBudgetCents(cycleCtx, tenantID)
	if err != nil {
		return fmt.Errorf("loading tenant total budget: %w", err)
	}

	inputs := make([]sampler.AdInput, 0, len(candidates))
	byAdID := make(map[string]AdCandidate, len(candidates))
	for _, c := range candidates {
		dnaBoost := c.DNABoost
		if dnaBoost == 0 && s.winners != nil {
			boost, err := s.winners.BoostFor(cycleCtx, c.Ad.AccountID)
			if err != nil {
				slog.Warn("winner boost lookup failed, scoring without it", "account_id", c.Ad.AccountID, "error", err)
			} else {
				dnaBoost = boost
			}
		}
		c.DNABoost = dnaBoost
		byAdID[c.Ad.ID] = c

		evalCtx := scorer.Context{
			Cohort:       scorer.CohortStats{MeanCTR: c.CohortMeanCTR, MeanROAS: c.CohortMeanROAS},
			FatigueGamma: tenant.BlendedDecayGamma,
			DNABoost:     dnaBoost,
		}
		score := s.scorer.Score(&c.State, evalCtx)

		inputs = append(inputs, sampler.AdInput{
			AdID:                    c.Ad.ID,
			AgeDays:                 c.Ad.AgeHours(asOf) / 24,
			SpendCents:              c.State.SpendCents,
			CurrentBudgetCents:      c.Ad.CurrentBudgetCents,
			PipelineROAS:            c.State.PipelineROAS(),
			Alpha:                   c.State.Alpha,
			Beta:                    c.State.Beta,
			Score:                   score.Value,
			ConsecutiveLowROASEvals: c.State.ConsecutiveLowROASEvals,
		})
	}

	thresholds := thresholdsFor(tenant)
	mode := sampler.Mode(tenant.Mode)

	recs := s.alloc.Allocate(inputs, totalBudget, mode, thresholds, func(adID string) (uint64, uint64) {
		return sampler.ProductionSeed(cycleID, adID)
	})

	cycleRecs := make([]CycleRecommendation, 0, len(recs))
	for _, rec := range recs {
		candidate := byAdID[rec.AdID]
		cycleRecs = append(cycleRecs, CycleRecommendation{
			AdID:              rec.AdID,
			AccountID:         candidate.Ad.AccountID,
			Action:            string(rec.Action),
			RecommendedBudget: rec.RecommendedBudget,
			PreviousBudget:    candidate.Ad.CurrentBudgetCents,
			Confidence:        rec.Confidence,
			Reason:            rec.Reason,
		})

		if err := s.enqueueChange(cycleCtx, tenantID, cycleID, candidate, rec); err != nil {
			slog.Error("enqueueing scheduler change failed", "tenant_id", tenantID, "ad_id", rec.AdID, "error", err)
		}

		streak := nextLowROASStreak(candidate.State.ConsecutiveLowROASEvals, rec.Action)
		if err := s.store.UpdateConsecutiveLowROASEvals(cycleCtx, rec.AdID, streak); err != nil {
			slog.Error("persisting low ROAS streak failed", "tenant_id", tenantID, "ad_id", rec.AdID, "error", err)
		}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordRecommendations(cycleCtx, tenantID, cycleID, asOf, cycleRecs); err != nil {
			slog.Error("recording cycle recommendations failed", "tenant_id", tenantID, "error", err)
		}
	}

	telemetry.RecordAllocatorDecision(tenantID, time.Since(start))
	return nil
}

// enqueueChange translates one allocator recommendation into a durable
// PendingAdChange, skipping actions that don't require a platform
// mutation (a hold whose budget didn't move past capStep).
func (s *Scheduler) enqueueChange(ctx context.Context, tenantID, cycleID string, c AdCandidate, rec sampler.Recommendation) error {
	change, ok := changeFor(tenantID, cycleID, c, rec)
	if !ok {
		return nil
	}
	_, _, err := s.queue.Enqueue(ctx, change)
	return err
}

// changeFor maps a Recommendation to a PendingAdChange. A kill becomes a
// pause (the platform has no "delete" primitive); any other action
// (scale, hold or reduce) whose recommended budget differs from the
// current one becomes a budget_increase/decrease; an unchanged budget
// enqueues nothing.
func changeFor(tenantID, cycleID string, c AdCandidate, rec sampler.Recommendation) (*models.PendingAdChange, bool) {
	now := time.Now()
	base := &models.PendingAdChange{
		TenantID:          tenantID,
		AdID:              c.Ad.ID,
		AccountID:         c.Ad.AccountID,
		Status:            models.ChangeStatusPending,
		EarliestExecuteAt: now,
		IdempotencyKey:    fmt.Sprintf("cycle:%s:ad:%s:action:%s", cycleID, c.Ad.ID, rec.Action),
		Reason:            rec.Reason,
		CreatedAt:         now,
	}

	switch rec.Action {
	case sampler.ActionKill:
		base.ChangeType = models.ChangeTypePause
		return base, true
	default:
		delta := rec.RecommendedBudget - c.Ad.CurrentBudgetCents
		if delta == 0 {
			return nil, false
		}
		raw, err := json.Marshal(struct {
			TargetBudgetCents int64 `json:"target_budget_cents"`
		}{TargetBudgetCents: rec.RecommendedBudget})
		if err != nil {
			return nil, false
		}
		base.Payload = raw
		if delta > 0 {
			base.ChangeType = models.ChangeTypeBudgetIncrease
		} else {
			base.ChangeType = models.ChangeTypeBudgetDecrease
		}
		return base, true
	}
}

// nextLowROASStreak increments the consecutive-low-ROAS counter on a
// reduce or kill decision (both mean this cycle's ROAS read low) and
// resets it once an ad scales or holds clear of the low band.
func nextLowROASStreak(current int, action sampler.Action) int {
	switch action {
	case sampler.ActionReduce, sampler.ActionKill:
		return current + 1
	default:
		return 0
	}
}

func thresholdsFor(tenant *config.TenantConfig) sampler.Thresholds {
	t := sampler.Thresholds{
		IgnoreZoneDays:          2,
		IgnoreZoneDaysDirect:    1,
		IgnoreZoneSpendCents:    10000,
		KillROASThreshold:       1.0,
		KillROASThresholdDirect: 1.0,
		ScaleROASThreshold:      2.0,
		KillConsecutiveEvals:    2,
		SoftmaxTemperature:      1.0,
		MaxStepPct:              0.2,
	}
	if tenant.IgnoreZoneDays > 0 {
		t.IgnoreZoneDays = tenant.IgnoreZoneDays
	}
	if tenant.IgnoreZoneDaysDirect > 0 {
		t.IgnoreZoneDaysDirect = tenant.IgnoreZoneDaysDirect
	}
	if tenant.IgnoreZoneSpendCents > 0 {
		t.IgnoreZoneSpendCents = tenant.IgnoreZoneSpendCents
	}
	if tenant.KillROASThreshold > 0 {
		t.KillROASThreshold = tenant.KillROASThreshold
	}
	if tenant.KillROASThresholdDirect > 0 {
		t.KillROASThresholdDirect = tenant.KillROASThresholdDirect
	}
	if tenant.ScaleROASThreshold > 0 {
		t.ScaleROASThreshold = tenant.ScaleROASThreshold
	}
	if tenant.KillConsecutiveEvals > 0 {
		t.KillConsecutiveEvals = tenant.KillConsecutiveEvals
	}
	if tenant.SoftmaxTemperature > 0 {
		t.SoftmaxTemperature = tenant.SoftmaxTemperature
	}
	if tenant.MaxStepPct > 0 {
		t.MaxStepPct = tenant.MaxStepPct
	}
	return t
}
