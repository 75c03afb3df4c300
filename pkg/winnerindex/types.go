// Package winnerindex remembers what worked so upstream creative
// generation can condition future creatives on it: a small vector store
// of winner patterns (creative embedding plus the performance snapshot
// and cohort metadata it earned the label with) with cosine-similarity
// k-NN search.
package winnerindex

import (
	"context"
	"time"

	"github.com/codeready-toolchain/adengine/pkg/models"
)

// AdSnapshot is the candidate for indexing: an ad's outcome metrics plus
// the creative metadata to attach if it's accepted as a winner.
type AdSnapshot struct {
	AdID         string
	AccountID    string
	CTR          float64
	PipelineROAS float64
	SpendCents   int64

	HookStyle string
	CTA       string
	Niche     string
	Cohort    string

	// Embedding is used as-is when already computed (e.g. by the
	// caller). If nil and an Embedder was supplied, Text is sent for
	// embedding instead.
	Embedding []float32
	Text      string
}

// Match is one search result: a winner pattern plus its similarity to
// the query embedding.
type Match struct {
	Pattern    models.WinnerPattern
	Similarity float64
}

// SearchFilters narrows a similarity search.
type SearchFilters struct {
	AccountID string
	Niche     string
	Since     time.Time
}

// Embedder turns creative text into a fixed-length vector. Satisfied by
// pkg/platform.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the persistence boundary for winner patterns.
type Store interface {
	// Upsert inserts or updates the pattern for its ad_id, keeping the
	// same pattern_id across re-indexing of the same ad.
	Upsert(ctx context.Context, p *models.WinnerPattern) error

	// Candidates returns patterns matching filters, for in-process
	// cosine ranking.
	Candidates(ctx context.Context, filters SearchFilters) ([]models.WinnerPattern, error)

	// Delete removes a pattern by pattern_id, used by compaction to
	// drop the lower-performing half of a near-duplicate pair.
	Delete(ctx context.Context, patternID string) error
}
