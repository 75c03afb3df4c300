// Package retention runs background housekeeping: compacting
// near-duplicate winner patterns and trimming change_history past its
// retention window.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
)

// AccountLister enumerates the accounts the compaction pass should visit.
// winnerindex.PostgresStore does not satisfy this directly; retention.PostgresStore
// adds the one query it needs instead of widening winnerindex's own Store interface.
type AccountLister interface {
	DistinctAccountIDs(ctx context.Context) ([]string, error)
}

// HistoryPruner deletes change_history rows older than a cutoff.
type HistoryPruner interface {
	DeleteOldChangeHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// Compactor merges near-duplicate winner patterns for one account.
// winnerindex.Index.CompactNearDuplicates satisfies this.
type Compactor interface {
	CompactNearDuplicates(ctx context.Context, accountID string, threshold float64) (int, error)
}

// Service periodically enforces retention policy:
//   - Compacts near-duplicate winner patterns per account
//   - Deletes change_history rows past their retention window
//
// Both passes are idempotent and safe to run from multiple replicas.
type Service struct {
	config    *config.RetentionConfig
	accounts  AccountLister
	history   HistoryPruner
	compactor Compactor

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the retention loop's dependencies.
func NewService(cfg *config.RetentionConfig, accounts AccountLister, history HistoryPruner, compactor Compactor) *Service {
	if cfg == nil || accounts == nil || history == nil || compactor == nil {
		panic("NewService: all dependencies are required")
	}
	return &Service{config: cfg, accounts: accounts, history: history, compactor: compactor}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"change_history_retention_days", s.config.ChangeHistoryRetentionDays,
		"near_duplicate_threshold", s.config.NearDuplicateThreshold,
		"interval", s.config.CleanupInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.compactWinnerPatterns(ctx)
	s.pruneChangeHistory(ctx)
}

func (s *Service) compactWinnerPatterns(ctx context.Context) {
	accountIDs, err := s.accounts.DistinctAccountIDs(ctx)
	if err != nil {
		slog.Error("retention: listing winner pattern accounts failed", "error", err)
		return
	}

	threshold := s.config.NearDuplicateThreshold
	if threshold <= 0 {
		threshold = 0.98
	}

	var totalMerged int
	for _, accountID := range accountIDs {
		merged, err := s.compactor.CompactNearDuplicates(ctx, accountID, threshold)
		if err != nil {
			slog.Error("retention: winner pattern compaction failed", "account_id", accountID, "error", err)
			continue
		}
		totalMerged += merged
	}
	if totalMerged > 0 {
		slog.Info("retention: compacted winner patterns", "accounts", len(accountIDs), "merged", totalMerged)
	}
}

func (s *Service) pruneChangeHistory(ctx context.Context) {
	days := s.config.ChangeHistoryRetentionDays
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	count, err := s.history.DeleteOldChangeHistory(ctx, cutoff)
	if err != nil {
		slog.Error("retention: change history prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: pruned change history", "count", count, "cutoff", cutoff)
	}
}
