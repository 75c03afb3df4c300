package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// recommendationsHandler handles GET /api/v1/recommendations?account_id.
func (s *Server) recommendationsHandler(c *gin.Context) {
	accountID := c.Query("account_id")
	recs, err := s.query.Recommendations(c.Request.Context(), accountID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]RecommendationResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, RecommendationResponse{
			ID:                r.ID,
			CycleID:           r.CycleID,
			AdID:              r.AdID,
			AccountID:         r.AccountID,
			Action:            r.Action,
			RecommendedBudget: r.RecommendedBudget,
			PreviousBudget:    r.PreviousBudget,
			Confidence:        r.Confidence,
			Reason:            r.Reason,
			CreatedAt:         r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// changesHandler handles GET /api/v1/changes?account_id&status.
func (s *Server) changesHandler(c *gin.Context) {
	accountID := c.Query("account_id")
	status := c.Query("status")

	changes, err := s.query.Changes(c.Request.Context(), accountID, status)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]ChangeResponse, 0, len(changes))
	for _, ch := range changes {
		out = append(out, ChangeResponse{
			ID:             ch.ID,
			AdID:           ch.AdID,
			AccountID:      ch.AccountID,
			ChangeType:     string(ch.ChangeType),
			Status:         string(ch.Status),
			Attempts:       ch.Attempts,
			IdempotencyKey: ch.IdempotencyKey,
			Reason:         ch.Reason,
			CreatedAt:      ch.CreatedAt,
			AppliedAt:      ch.AppliedAt,
			Error:          ch.Error,
		})
	}
	c.JSON(http.StatusOK, out)
}

// triggerCycleHandler handles POST /api/v1/scheduler/trigger, an
// out-of-cadence decision cycle trigger complementing the three query
// endpoints.
func (s *Server) triggerCycleHandler(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.query.TriggerCycle(c.Request.Context(), req.TenantID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{TenantID: req.TenantID, Status: "triggered"})
}
