package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/adengine/pkg/services"
	"github.com/codeready-toolchain/adengine/pkg/winnerindex"
)

// registerWinnerHandler handles POST /api/v1/creative/register-winner.
func (s *Server) registerWinnerHandler(c *gin.Context) {
	var req RegisterWinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	accepted, err := s.winners.RegisterWinner(c.Request.Context(), services.RegisterWinnerInput{
		TenantID:     req.TenantID,
		AdID:         req.AdID,
		AccountID:    req.AccountID,
		CTR:          req.CTR,
		PipelineROAS: req.PipelineROAS,
		SpendCents:   req.SpendCents,
		HookStyle:    req.HookStyle,
		CTA:          req.CTA,
		Niche:        req.Niche,
		Cohort:       req.Cohort,
		Embedding:    req.Embedding,
		Text:         req.Text,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, RegisterWinnerResponse{Accepted: accepted})
}

// similarWinnersHandler handles GET /api/v1/winners/similar.
func (s *Server) similarWinnersHandler(c *gin.Context) {
	query := c.Query("query")
	accountID := c.Query("account_id")
	niche := c.Query("niche")
	k := 5
	if raw := c.Query("k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			k = parsed
		}
	}

	matches, err := s.winners.SimilarWinners(c.Request.Context(), query, nil, k, winnerindex.SearchFilters{
		AccountID: accountID,
		Niche:     niche,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]SimilarWinnerResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, SimilarWinnerResponse{
			PatternID:  m.Pattern.PatternID,
			AdID:       m.Pattern.AdID,
			AccountID:  m.Pattern.AccountID,
			Similarity: m.Similarity,
			HookStyle:  m.Pattern.Metadata.HookStyle,
			CTA:        m.Pattern.Metadata.CTA,
			Niche:      m.Pattern.Metadata.Niche,
		})
	}
	c.JSON(http.StatusOK, out)
}
