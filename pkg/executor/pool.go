package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/telemetry"
)

// PoolHealth reports the Safe Executor's aggregate health.
type PoolHealth struct {
	TotalWorkers    int
	LastReclaimScan time.Time
	ClaimsReclaimed int
}

// WorkerPool manages the Safe Executor's worker goroutines plus the
// background sweep that reclaims claims abandoned by a crashed worker.
type WorkerPool struct {
	podID    string
	store    Store
	platform PlatformClient
	tenants  *config.TenantRegistry
	alerter  Alerter
	cfg      *config.ExecutorConfig

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu              sync.Mutex
	lastReclaimScan time.Time
	claimsReclaimed int
}

// NewWorkerPool creates a worker pool. alerter may be nil.
func NewWorkerPool(podID string, store Store, platform PlatformClient, tenants *config.TenantRegistry, alerter Alerter, cfg *config.ExecutorConfig) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		store:    store,
		platform: platform,
		tenants:  tenants,
		alerter:  alerter,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines and the reclaim sweep. Safe to call
// once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("executor pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting executor worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		id := fmt.Sprintf("%s-executor-%d", p.podID, i)
		w := NewWorker(id, p.store, p.platform, p.tenants, p.alerter, p.cfg)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaimSweep(ctx)
	}()
}

// Stop signals every worker and the reclaim sweep to stop, and waits for
// in-flight batches to finish.
func (p *WorkerPool) Stop() {
	slog.Info("stopping executor worker pool")
	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("executor worker pool stopped")
}

func (p *WorkerPool) runReclaimSweep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reclaimExpiredClaims(ctx)
			p.recordQueueDepths(ctx)
		}
	}
}

func (p *WorkerPool) reclaimExpiredClaims(ctx context.Context) {
	count, err := p.store.ReclaimExpiredClaims(ctx, time.Now())
	if err != nil {
		slog.Error("reclaiming expired claims failed", "error", err)
		return
	}
	if count > 0 {
		slog.Warn("reclaimed expired claims", "count", count)
	}
	p.mu.Lock()
	p.lastReclaimScan = time.Now()
	p.claimsReclaimed += count
	p.mu.Unlock()
}

func (p *WorkerPool) recordQueueDepths(ctx context.Context) {
	depths, err := p.store.QueueDepths(ctx)
	if err != nil {
		slog.Error("counting queue depths failed", "error", err)
		return
	}
	for _, status := range []string{"pending", "claimed", "applied", "failed", "dead"} {
		telemetry.RecordQueueDepth(status, depths[status])
	}
}

// Health returns the pool's current health snapshot.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolHealth{
		TotalWorkers:    len(p.workers),
		LastReclaimScan: p.lastReclaimScan,
		ClaimsReclaimed: p.claimsReclaimed,
	}
}
