package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/adengine/pkg/services"
)

// stageChangeHandler handles POST /api/v1/feedback/stage-change.
func (s *Server) stageChangeHandler(c *gin.Context) {
	var req StageChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	input := services.StageChangeInput{
		TenantID:       req.TenantID,
		DealID:         req.DealID,
		StageFrom:      req.StageFrom,
		StageTo:        req.StageTo,
		DealValueCents: req.DealValue,
		Timestamp:      req.Timestamp,
	}
	if req.Identity != nil {
		input.IdentityFingerprint = req.Identity.Fingerprint
		input.IP = req.Identity.IP
		input.UserAgent = req.Identity.UserAgent
		input.FBClickID = req.Identity.FBClickID
	}

	eventID, err := s.feedback.IngestStageChange(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{EventID: eventID, Status: "accepted"})
}

// metricUpdateHandler handles POST /api/v1/feedback/metric-update.
func (s *Server) metricUpdateHandler(c *gin.Context) {
	var reqs []MetricUpdateRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	updates := make([]services.MetricUpdate, 0, len(reqs))
	for _, r := range reqs {
		updates = append(updates, services.MetricUpdate{
			AdID:             r.AdID,
			ImpressionsDelta: r.ImpressionsDelta,
			ClicksDelta:      r.ClicksDelta,
			SpendDeltaCents:  r.SpendDeltaCents,
			ObservedAt:       r.ObservedAt,
		})
	}

	if err := s.feedback.IngestMetricUpdates(c.Request.Context(), updates); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}
