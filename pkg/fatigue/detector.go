package fatigue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/telemetry"
)

const defaultWinnerSearchK = 5

// Detector periodically evaluates every active ad against the fatigue
// rules and enqueues remediation intents.
type Detector struct {
	tenants  *config.TenantRegistry
	store    Store
	queue    Queue
	winners  WinnerSearcher
	creative CreativeRequester
	alerter  Alerter
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures optional Detector behavior.
type Option func(*Detector)

// WithAlerter attaches an Alerter notified on severity-2+ evaluations.
func WithAlerter(a Alerter) Option {
	return func(d *Detector) { d.alerter = a }
}

// New creates a Detector. winners/creative may be nil; when either is
// nil, severity-2 replacement requests are skipped with a logged
// warning rather than failing the tick.
func New(tenants *config.TenantRegistry, store Store, queue Queue, winners WinnerSearcher, creative CreativeRequester, interval time.Duration, opts ...Option) *Detector {
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	d := &Detector{tenants: tenants, store: store, queue: queue, winners: winners, creative: creative, interval: interval}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the background tick loop.
func (d *Detector) Start(ctx context.Context) {
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go d.run(ctx)

	slog.Info("fatigue detector started", "interval", d.interval)
}

// Stop signals the tick loop to exit and waits for it to finish.
func (d *Detector) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	slog.Info("fatigue detector stopped")
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)

	d.tickAll(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tickAll(ctx)
		}
	}
}

func (d *Detector) tickAll(ctx context.Context) {
	for tenantID := range d.tenants.GetAll() {
		if err := d.Tick(ctx, tenantID, time.Now()); err != nil {
			slog.Error("fatigue tick failed", "tenant_id", tenantID, "error", err)
		}
	}
}

// Tick evaluates every active candidate ad for one tenant against the
// fatigue rules and enqueues remediation intents for any that fire.
func (d *Detector) Tick(ctx context.Context, tenantID string, asOf time.Time) error {
	tenant, err := d.tenants.Get(tenantID)
	if err != nil {
		return fmt.Errorf("resolving tenant for fatigue tick: %w", err)
	}

	candidates, err := d.store.ActiveCandidates(ctx, tenantID, asOf)
	if err != nil {
		return fmt.Errorf("fetching fatigue candidates: %w", err)
	}

	thresholds := thresholdsFor(tenant)

	for _, c := range candidates {
		eval := Evaluate(c, thresholds)
		telemetry.SetFatigueSeverity(c.AdID, eval.Severity)
		if eval.Severity == 0 {
			continue
		}

		reason := joinReasons(eval.Reasons)
		if err := d.remediate(ctx, c, eval, reason, thresholds); err != nil {
			slog.Error("fatigue remediation failed", "ad_id", c.AdID, "error", err)
		}
	}

	return nil
}

func (d *Detector) remediate(ctx context.Context, c Candidate, eval Evaluation, reason string, t Thresholds) error {
	newBudget := budgetFloorOrDecrease(c, t)
	if err := d.queue.EnqueueBudgetDecrease(ctx, c, newBudget, reason); err != nil {
		return fmt.Errorf("enqueueing budget decrease: %w", err)
	}

	if eval.Severity < 2 {
		return nil
	}

	if d.alerter != nil {
		d.alerter.NotifyFatigueSeverity(ctx, c, eval.Severity, reason)
	}

	if err := d.queue.EnqueuePause(ctx, c, reason); err != nil {
		return fmt.Errorf("enqueueing pause: %w", err)
	}

	if d.winners == nil || d.creative == nil {
		slog.Warn("fatigue severity >= 2 but no winner search / creative requester wired, skipping replacement request", "ad_id", c.AdID)
		return nil
	}

	topWinners, err := d.winners.TopPatternIDs(ctx, c.AccountID, defaultWinnerSearchK)
	if err != nil {
		return fmt.Errorf("searching winner patterns: %w", err)
	}
	if err := d.creative.RequestReplacement(ctx, c.AccountID, topWinners, reason); err != nil {
		return fmt.Errorf("requesting creative replacement: %w", err)
	}
	return nil
}

// budgetFloorOrDecrease cuts the ad's current budget by the configured
// percentage, never below the floor. An unknown budget goes straight to
// the floor rather than guessing from spend.
func budgetFloorOrDecrease(c Candidate, t Thresholds) int64 {
	if c.CurrentBudgetCents <= 0 {
		return t.BudgetFloorCents
	}
	decreased := int64(float64(c.CurrentBudgetCents) * (1 - t.BudgetDecreasePct))
	if decreased < t.BudgetFloorCents {
		return t.BudgetFloorCents
	}
	return decreased
}

func thresholdsFor(tenant *config.TenantConfig) Thresholds {
	t := DefaultThresholds()
	if tenant.FatigueMinWindowImpressions > 0 {
		t.MinWindowImpressions = tenant.FatigueMinWindowImpressions
	}
	if tenant.FatigueMaxImpressions > 0 {
		t.MaxImpressions = tenant.FatigueMaxImpressions
	}
	if tenant.FatigueFlatlineImpressions > 0 {
		t.FlatlineImpressions = tenant.FatigueFlatlineImpressions
	}
	if tenant.FatigueBudgetDecreasePct > 0 {
		t.BudgetDecreasePct = tenant.FatigueBudgetDecreasePct
	}
	if tenant.FatigueBudgetFloorCents > 0 {
		t.BudgetFloorCents = tenant.FatigueBudgetFloorCents
	}
	return t
}

func joinReasons(reasons []string) string {
	result := ""
	for i, r := range reasons {
		if i > 0 {
			result += "; "
		}
		result += r
	}
	return result
}
