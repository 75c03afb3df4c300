package winnerindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/models"
	"github.com/google/uuid"
)

// Thresholds gates acceptance into the index: an ad snapshot must clear
// every one of these to be remembered as a winner pattern.
type Thresholds struct {
	CTR      float64
	ROAS     float64
	MinSpend int64
}

// ThresholdsFromTenant reads winner-gating thresholds from tenant
// defaults, falling back to the package defaults for any unset field.
func ThresholdsFromTenant(t *config.TenantConfig) Thresholds {
	th := Thresholds{CTR: 0.03, ROAS: 3.0, MinSpend: 20000}
	if t == nil {
		return th
	}
	if t.WinnerCTRThreshold > 0 {
		th.CTR = t.WinnerCTRThreshold
	}
	if t.WinnerROASThreshold > 0 {
		th.ROAS = t.WinnerROASThreshold
	}
	if t.WinnerMinSpendCents > 0 {
		th.MinSpend = t.WinnerMinSpendCents
	}
	return th
}

// Index gates, embeds, and persists winner patterns, and serves
// similarity search over them.
type Index struct {
	store    Store
	embedder Embedder
	tenants  *config.TenantRegistry
}

// New creates an Index. embedder may be nil if every AdSnapshot already
// carries a precomputed Embedding.
func New(store Store, embedder Embedder, tenants *config.TenantRegistry) *Index {
	return &Index{store: store, embedder: embedder, tenants: tenants}
}

// Accepts reports whether snap clears th's gates, without touching
// storage. Index calls it before any embedding work so snapshots that
// will be rejected are never embedded.
func (th Thresholds) Accepts(snap AdSnapshot) bool {
	return snap.CTR >= th.CTR && snap.PipelineROAS >= th.ROAS && snap.SpendCents >= th.MinSpend
}

// Index evaluates snap against tenantID's winner-gating thresholds and,
// if accepted, computes (or reuses) its embedding and upserts it keyed
// on ad_id. Returns false, nil when the snapshot was rejected by the
// gate rather than failed by an error.
func (idx *Index) Index(ctx context.Context, tenantID string, snap AdSnapshot) (bool, error) {
	tenant, err := idx.tenants.Get(tenantID)
	if err != nil {
		return false, fmt.Errorf("resolving tenant for winner indexing: %w", err)
	}
	th := ThresholdsFromTenant(tenant)
	if !th.Accepts(snap) {
		return false, nil
	}

	embedding := snap.Embedding
	if embedding == nil {
		if idx.embedder == nil {
			return false, fmt.Errorf("ad %s accepted as winner but has no embedding and no embedder configured", snap.AdID)
		}
		embedding, err = idx.embedder.Embed(ctx, snap.Text)
		if err != nil {
			return false, fmt.Errorf("embedding ad %s: %w", snap.AdID, err)
		}
	}

	pattern := &models.WinnerPattern{
		PatternID: uuid.NewString(),
		AdID:      snap.AdID,
		AccountID: snap.AccountID,
		Embedding: embedding,
		Metadata: models.WinnerMetadata{
			HookStyle: snap.HookStyle,
			CTA:       snap.CTA,
			Niche:     snap.Niche,
			Cohort:    snap.Cohort,
			Snapshot: models.PerformanceSnapshot{
				CTR:          snap.CTR,
				PipelineROAS: snap.PipelineROAS,
				SpendCents:   snap.SpendCents,
			},
		},
		CreatedAt: time.Now(),
	}

	if err := idx.store.Upsert(ctx, pattern); err != nil {
		return false, fmt.Errorf("upserting winner pattern for ad %s: %w", snap.AdID, err)
	}
	slog.Info("indexed winner pattern", "ad_id", snap.AdID, "account_id", snap.AccountID, "ctr", snap.CTR, "roas", snap.PipelineROAS)
	return true, nil
}

// Search returns the top-k patterns nearest embedding by cosine
// similarity, restricted to filters. Ranking happens in process since
// no vector extension is assumed at the storage layer; candidate sets
// are kept small by filters.AccountID/Niche/Since before ranking.
func (idx *Index) Search(ctx context.Context, embedding []float32, k int, filters SearchFilters) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	candidates, err := idx.store.Candidates(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("fetching winner pattern candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, p := range candidates {
		matches = append(matches, Match{Pattern: p, Similarity: cosineSimilarity(embedding, p.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// TopPatternIDs returns accountID's k best-performing winner patterns by
// pipeline ROAS, implementing fatigue.WinnerSearcher. Unlike Search, this
// has no query embedding to rank against — the fatigue detector wants
// the account's proven winners as creative-generator conditioning, not
// patterns similar to the fatigued ad.
func (idx *Index) TopPatternIDs(ctx context.Context, accountID string, k int) ([]string, error) {
	if k <= 0 {
		k = 5
	}
	candidates, err := idx.store.Candidates(ctx, SearchFilters{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("fetching winner patterns for account %s: %w", accountID, err)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Metadata.Snapshot.PipelineROAS > candidates[j].Metadata.Snapshot.PipelineROAS
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.PatternID
	}
	return ids, nil
}

// BoostFor computes the scorer's DNA-similarity boost for accountID,
// implementing scheduler.WinnerBooster. It is the account's single
// best-performing winner pattern's pipeline ROAS, expressed as a
// multiplier clamped to [1.0, 1.2]: an account with no
// winners yet gets no boost.
func (idx *Index) BoostFor(ctx context.Context, accountID string) (float64, error) {
	candidates, err := idx.store.Candidates(ctx, SearchFilters{AccountID: accountID})
	if err != nil {
		return 0, fmt.Errorf("fetching winner patterns for boost: %w", err)
	}
	if len(candidates) == 0 {
		return 1.0, nil
	}

	best := candidates[0].Metadata.Snapshot.PipelineROAS
	for _, c := range candidates[1:] {
		if c.Metadata.Snapshot.PipelineROAS > best {
			best = c.Metadata.Snapshot.PipelineROAS
		}
	}

	boost := 1.0 + 0.05*best
	if boost > 1.2 {
		boost = 1.2
	}
	if boost < 1.0 {
		boost = 1.0
	}
	return boost, nil
}

// CompactNearDuplicates merges patterns whose cosine similarity exceeds
// threshold (default 0.98 per tenant policy), keeping the
// higher-performer (by pipeline ROAS) of each pair and deleting the
// other. Runs per account since cross-account merging isn't meaningful.
func (idx *Index) CompactNearDuplicates(ctx context.Context, accountID string, threshold float64) (int, error) {
	candidates, err := idx.store.Candidates(ctx, SearchFilters{AccountID: accountID})
	if err != nil {
		return 0, fmt.Errorf("fetching candidates for compaction: %w", err)
	}

	removed := map[string]bool{}
	var count int
	for i := 0; i < len(candidates); i++ {
		if removed[candidates[i].PatternID] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if removed[candidates[j].PatternID] {
				continue
			}
			if cosineSimilarity(candidates[i].Embedding, candidates[j].Embedding) <= threshold {
				continue
			}
			loser := candidates[j].PatternID
			if candidates[j].Metadata.Snapshot.PipelineROAS > candidates[i].Metadata.Snapshot.PipelineROAS {
				loser = candidates[i].PatternID
			}
			if err := idx.store.Delete(ctx, loser); err != nil {
				return count, fmt.Errorf("deleting near-duplicate pattern %s: %w", loser, err)
			}
			removed[loser] = true
			count++
		}
	}
	return count, nil
}
