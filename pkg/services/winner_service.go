package services

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/adengine/pkg/winnerindex"
)

// RegisterWinnerInput is the domain-level form of a
// POST /creative/register-winner notification.
type RegisterWinnerInput struct {
	TenantID  string
	AdID      string
	AccountID string

	CTR          float64
	PipelineROAS float64
	SpendCents   int64

	HookStyle string
	CTA       string
	Niche     string
	Cohort    string

	// Embedding is used as-is when supplied; otherwise Text is sent to
	// the embedding service.
	Embedding []float32
	Text      string
}

// WinnerService binds the Winner Index to the register-winner and
// similar-winners endpoints.
type WinnerService struct {
	index    *winnerindex.Index
	embedder winnerindex.Embedder
}

// NewWinnerService wires the index and the embedding client used to turn
// a bare query string into a search vector.
func NewWinnerService(index *winnerindex.Index, embedder winnerindex.Embedder) *WinnerService {
	if index == nil {
		panic("NewWinnerService: index must not be nil")
	}
	return &WinnerService{index: index, embedder: embedder}
}

// RegisterWinner indexes an upstream-promoted ad as a winner pattern,
// subject to the tenant's winner-gate thresholds. Returns false if the
// ad didn't clear the gate.
func (s *WinnerService) RegisterWinner(ctx context.Context, input RegisterWinnerInput) (bool, error) {
	if input.TenantID == "" {
		return false, NewValidationError("tenant_id", "tenant_id is required")
	}
	if input.AdID == "" {
		return false, NewValidationError("ad_id", "ad_id is required")
	}

	accepted, err := s.index.Index(ctx, input.TenantID, winnerindex.AdSnapshot{
		AdID:         input.AdID,
		AccountID:    input.AccountID,
		CTR:          input.CTR,
		PipelineROAS: input.PipelineROAS,
		SpendCents:   input.SpendCents,
		HookStyle:    input.HookStyle,
		CTA:          input.CTA,
		Niche:        input.Niche,
		Cohort:       input.Cohort,
		Embedding:    input.Embedding,
		Text:         input.Text,
	})
	if err != nil {
		return false, fmt.Errorf("registering winner for ad %s: %w", input.AdID, err)
	}
	return accepted, nil
}

// SimilarWinners answers GET /winners/similar: a k-NN search over the
// index, embedding query text when the caller didn't supply a vector
// directly.
func (s *WinnerService) SimilarWinners(ctx context.Context, query string, embedding []float32, k int, filters winnerindex.SearchFilters) ([]winnerindex.Match, error) {
	if len(embedding) == 0 {
		if query == "" {
			return nil, NewValidationError("query", "query or embedding is required")
		}
		if s.embedder == nil {
			return nil, fmt.Errorf("no embedding client configured to embed query text")
		}
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding query text: %w", err)
		}
		embedding = vec
	}

	matches, err := s.index.Search(ctx, embedding, k, filters)
	if err != nil {
		return nil, fmt.Errorf("searching winner index: %w", err)
	}
	return matches, nil
}
