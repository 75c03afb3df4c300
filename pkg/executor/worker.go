package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/identity"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/codeready-toolchain/adengine/pkg/telemetry"
)

// Requeue cause labels for the requeue counter metric.
const (
	requeueCauseRateLimited    = "rate_limited"
	requeueCauseVelocityCapped = "velocity_capped"
	requeueCauseTransientError = "transient_error"
)

// Worker polls the durable change queue, claims a batch, and applies it
// to the ad platform under the jitter/rate/velocity guards.
type Worker struct {
	id       string
	store    Store
	platform PlatformClient
	tenants  *config.TenantRegistry
	alerter  Alerter
	cfg      *config.ExecutorConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sleep    func(time.Duration)
	rnd      func() float64
	recorder telemetry.ChangeRecorder
	scrub    *identity.Scrubber
}

// NewWorker creates a queue worker. alerter may be nil (dead-change
// alerting disabled).
func NewWorker(id string, store Store, platform PlatformClient, tenants *config.TenantRegistry, alerter Alerter, cfg *config.ExecutorConfig) *Worker {
	return &Worker{
		id:       id,
		store:    store,
		platform: platform,
		tenants:  tenants,
		alerter:  alerter,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		sleep:    time.Sleep,
		rnd:      rand.Float64,
		recorder: telemetry.SlogRecorder{},
		scrub:    identity.NewScrubber(),
	}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current batch to
// finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("executor worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("executor worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, executor worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoChangesAvailable) {
					w.sleepJittered()
					continue
				}
				log.Error("error processing batch", "error", err)
				w.sleepJittered()
			}
		}
	}
}

func (w *Worker) sleepJittered() {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	d := base
	if jitter > 0 {
		d = base - jitter + time.Duration(w.rnd()*float64(2*jitter))
	}
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims a batch, groups it by account, and applies each
// account group under the anti-abuse pipeline.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	batchSize := w.cfg.WorkerCount * 4
	if batchSize < 1 {
		batchSize = 20
	}
	changes, err := w.store.Claim(ctx, w.id, batchSize, w.cfg.ClaimTimeout)
	if err != nil {
		return fmt.Errorf("claiming batch: %w", err)
	}
	if len(changes) == 0 {
		return ErrNoChangesAvailable
	}
	claimedAt := time.Now()
	for _, c := range changes {
		telemetry.RecordClaimLatency(claimedAt.Sub(c.EarliestExecuteAt))
	}

	for accountID, group := range groupByAccount(changes) {
		w.processAccountGroup(ctx, accountID, group)
	}
	return nil
}

func groupByAccount(changes []*models.PendingAdChange) map[string][]*models.PendingAdChange {
	groups := make(map[string][]*models.PendingAdChange)
	for _, c := range changes {
		groups[c.AccountID] = append(groups[c.AccountID], c)
	}
	return groups
}

// processAccountGroup applies the apply pipeline (jitter, rate check,
// velocity check, fuzzing, batch-vs-serial dispatch, outcome handling)
// to every claimed row belonging to one account.
func (w *Worker) processAccountGroup(ctx context.Context, accountID string, group []*models.PendingAdChange) {
	log := slog.With("worker_id", w.id, "account_id", accountID)

	tenant := w.tenantForGroup(group)
	jitterMin, jitterMax := 3*time.Second, 18*time.Second
	if tenant != nil && tenant.JitterMaxSeconds > 0 {
		jitterMin = time.Duration(tenant.JitterMinSeconds * float64(time.Second))
		jitterMax = time.Duration(tenant.JitterMaxSeconds * float64(time.Second))
	}
	w.sleep(jitterMin + time.Duration(w.rnd()*float64(jitterMax-jitterMin)))

	maxPerHour := 15
	maxVelocityPct := 0.20
	batchThreshold := 10
	fuzzPct := 0.005
	if tenant != nil {
		if tenant.MaxChangesPerHour > 0 {
			maxPerHour = tenant.MaxChangesPerHour
		}
		if tenant.MaxVelocityPct6h > 0 {
			maxVelocityPct = tenant.MaxVelocityPct6h
		}
		if tenant.BatchThreshold > 0 {
			batchThreshold = tenant.BatchThreshold
		}
		if tenant.FuzzPct > 0 {
			fuzzPct = tenant.FuzzPct
		}
	}

	now := time.Now()

	// Rate check: reject the whole batch for this account if it has
	// exceeded max_changes_per_hour; requeue everything into the next
	// rolling window.
	appliedLastHour, err := w.store.RecentAppliedCount(ctx, accountID, now.Add(-time.Hour))
	if err != nil {
		log.Error("rate check failed", "error", err)
		return
	}
	if appliedLastHour >= maxPerHour {
		for _, c := range group {
			w.postpone(ctx, c, w.spread(rateLimitBackoff(now)), requeueCauseRateLimited, "rate limited: max_changes_per_hour exceeded")
		}
		return
	}
	allowedByRate := maxPerHour - appliedLastHour
	if allowedByRate < len(group) {
		sort.Slice(group, func(i, j int) bool { return group[i].EarliestExecuteAt.Before(group[j].EarliestExecuteAt) })
		overflow := group[allowedByRate:]
		group = group[:allowedByRate]
		for _, c := range overflow {
			w.postpone(ctx, c, w.spread(rateLimitBackoff(now)), requeueCauseRateLimited, "rate limited: max_changes_per_hour exceeded")
		}
	}

	// Budget-velocity check: cap cumulative absolute budget change over
	// the trailing 6h; apply up to the cap, requeue the remainder.
	velocitySoFar, err := w.store.RecentBudgetVelocityCents(ctx, accountID, now.Add(-6*time.Hour))
	if err != nil {
		log.Error("velocity check failed", "error", err)
		return
	}
	budgetBasis, _ := w.store.CurrentBudgetCents(ctx, anyAdID(group))
	velocityCapCents := int64(float64(budgetBasis) * maxVelocityPct)

	var toApply []*models.PendingAdChange
	remaining := velocityCapCents - velocitySoFar
	for _, c := range group {
		delta, isBudget := budgetDelta(ctx, c, w.store)
		if !isBudget {
			toApply = append(toApply, c)
			continue
		}
		if remaining <= 0 {
			w.postpone(ctx, c, w.spread(velocityBackoff(now)), requeueCauseVelocityCapped, "velocity limited: max_velocity_pct_6h exceeded")
			continue
		}
		if delta > remaining {
			w.postpone(ctx, c, w.spread(velocityBackoff(now)), requeueCauseVelocityCapped, "velocity limited: max_velocity_pct_6h exceeded")
			continue
		}
		remaining -= delta
		toApply = append(toApply, c)
	}
	group = toApply
	if len(group) == 0 {
		return
	}

	reqs := make([]PlatformChangeRequest, 0, len(group))
	targetByChange := make(map[string]int64, len(group))
	for _, c := range group {
		payload, err := ParsePayload(c.Payload)
		if err != nil {
			w.finalizeDead(ctx, c, "malformed payload: "+err.Error())
			continue
		}
		if payload.TargetBudgetCents != nil {
			fuzzed := fuzzBudget(*payload.TargetBudgetCents, c.IdempotencyKey, fuzzPct)
			targetByChange[c.ID] = fuzzed
			payload.TargetBudgetCents = &fuzzed
		}
		reqs = append(reqs, PlatformChangeRequest{
			ChangeID:       c.ID,
			AdID:           c.AdID,
			AccountID:      c.AccountID,
			ChangeType:     c.ChangeType,
			IdempotencyKey: c.IdempotencyKey,
			Payload:        payload,
		})
	}
	if len(reqs) == 0 {
		return
	}

	var results []PlatformChangeResult
	if len(reqs) >= batchThreshold {
		results = w.platform.ApplyBatch(ctx, reqs)
	} else {
		for _, r := range reqs {
			results = append(results, w.platform.ApplyChange(ctx, r))
		}
	}

	byID := make(map[string]*models.PendingAdChange, len(group))
	for _, c := range group {
		byID[c.ID] = c
	}
	for _, res := range results {
		c, ok := byID[res.ChangeID]
		if !ok {
			continue
		}
		w.handleOutcome(ctx, c, res, targetByChange[c.ID], budgetBasis, now)
	}
}

func (w *Worker) tenantForGroup(group []*models.PendingAdChange) *config.TenantConfig {
	if w.tenants == nil || len(group) == 0 {
		return nil
	}
	tenant, err := w.tenants.Get(group[0].TenantID)
	if err != nil {
		return nil
	}
	return tenant
}

func anyAdID(group []*models.PendingAdChange) string {
	if len(group) == 0 {
		return ""
	}
	return group[0].AdID
}

// budgetDelta returns the absolute cents delta a budget change would
// apply against the ad's current budget, and whether the change is
// budget-typed at all (pause/resume/replace_creative don't consume the
// velocity budget).
func budgetDelta(ctx context.Context, c *models.PendingAdChange, store Store) (int64, bool) {
	if c.ChangeType != models.ChangeTypeBudgetIncrease && c.ChangeType != models.ChangeTypeBudgetDecrease {
		return 0, false
	}
	payload, err := ParsePayload(c.Payload)
	if err != nil || payload.TargetBudgetCents == nil {
		return 0, false
	}
	current, err := store.CurrentBudgetCents(ctx, c.AdID)
	if err != nil {
		return 0, false
	}
	delta := *payload.TargetBudgetCents - current
	if delta < 0 {
		delta = -delta
	}
	return delta, true
}

func (w *Worker) handleOutcome(ctx context.Context, c *models.PendingAdChange, res PlatformChangeResult, fuzzedTarget, budgetBasis int64, start time.Time) {
	latency := time.Since(start).Milliseconds()

	if res.Success {
		if err := w.store.MarkApplied(ctx, c.ID, time.Now()); err != nil {
			slog.Error("failed marking change applied", "change_id", c.ID, "error", err)
			return
		}
		delta := int64(0)
		if c.ChangeType == models.ChangeTypeBudgetIncrease || c.ChangeType == models.ChangeTypeBudgetDecrease {
			delta = fuzzedTarget - budgetBasis
			if delta < 0 {
				delta = -delta
			}
		}
		w.recordHistory(ctx, c, models.ChangeStatusApplied, nil, latency, delta)
		telemetry.RecordChangeApplied(string(c.ChangeType))
		w.recorder.RecordChange(ctx, telemetry.ChangeEvent{
			ChangeID:   c.ID,
			AdID:       c.AdID,
			ChangeType: string(c.ChangeType),
			Status:     telemetry.ChangeEventApplied,
			LatencyMS:  latency,
			Attempts:   c.Attempts + 1,
			Reason:     w.scrub.Scrub(c.Reason),
		})
		return
	}

	if res.Retryable && c.Attempts+1 < w.cfg.MaxAttempts {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		w.requeue(ctx, c, 1, requeueCauseTransientError, msg)
		return
	}

	reason := "non-retryable error"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	w.finalizeDead(ctx, c, reason)
}

// postpone pushes an admission-controlled change into a later execution
// window. Unlike requeue, it does not consume a delivery attempt:
// rate-limit and velocity-cap rejections are backpressure, not platform
// failures, and must never dead-letter a change that was never sent.
func (w *Worker) postpone(ctx context.Context, c *models.PendingAdChange, at time.Time, cause, reason string) {
	if err := w.store.Requeue(ctx, c.ID, at, c.Attempts, w.scrub.Scrub(reason)); err != nil {
		slog.Error("failed postponing change", "change_id", c.ID, "error", err)
		return
	}
	telemetry.RecordChangeRequeued(cause)
}

// spread jitters a postponement target by up to ten minutes so a batch
// postponed together doesn't stampede back at the same instant.
func (w *Worker) spread(at time.Time) time.Time {
	return at.Add(time.Duration(w.rnd() * float64(10*time.Minute)))
}

func (w *Worker) requeue(ctx context.Context, c *models.PendingAdChange, attemptsDelta int, cause, reason string) {
	attempts := c.Attempts + attemptsDelta
	if attempts >= w.cfg.MaxAttempts {
		w.finalizeDead(ctx, c, reason)
		return
	}
	backoff := requeueBackoff(attempts, time.Second, time.Minute)
	if err := w.store.Requeue(ctx, c.ID, time.Now().Add(backoff), attempts, w.scrub.Scrub(reason)); err != nil {
		slog.Error("failed requeueing change", "change_id", c.ID, "error", err)
		return
	}
	telemetry.RecordChangeRequeued(cause)
}

func (w *Worker) finalizeDead(ctx context.Context, c *models.PendingAdChange, reason string) {
	reason = w.scrub.Scrub(reason)
	if err := w.store.MarkDead(ctx, c.ID, reason); err != nil {
		slog.Error("failed marking change dead", "change_id", c.ID, "error", err)
		return
	}
	errMsg := reason
	w.recordHistory(ctx, c, models.ChangeStatusDead, &errMsg, 0, 0)
	telemetry.RecordChangeDead(string(c.ChangeType))
	w.recorder.RecordChange(ctx, telemetry.ChangeEvent{
		ChangeID:   c.ID,
		AdID:       c.AdID,
		ChangeType: string(c.ChangeType),
		Status:     telemetry.ChangeEventDead,
		Attempts:   c.Attempts + 1,
		Error:      reason,
		Reason:     w.scrub.Scrub(c.Reason),
	})
	if w.alerter != nil {
		c.Status = models.ChangeStatusDead
		w.alerter.NotifyDeadChange(ctx, c, reason)
	}
}

func (w *Worker) recordHistory(ctx context.Context, c *models.PendingAdChange, status models.ChangeStatus, errMsg *string, latencyMS, budgetDeltaCents int64) {
	if errMsg != nil {
		scrubbed := w.scrub.Scrub(*errMsg)
		errMsg = &scrubbed
	}
	h := &models.ChangeHistory{
		ChangeID:         c.ID,
		AdID:             c.AdID,
		AccountID:        c.AccountID,
		ChangeType:       c.ChangeType,
		Status:           status,
		Reason:           w.scrub.Scrub(c.Reason),
		Error:            errMsg,
		LatencyMS:        latencyMS,
		Attempts:         c.Attempts + 1,
		BudgetDeltaCents: budgetDeltaCents,
	}
	if err := w.store.RecordHistory(ctx, h); err != nil {
		slog.Error("failed recording change history", "change_id", c.ID, "error", err)
	}
}
