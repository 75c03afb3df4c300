package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/adengine/pkg/services"
)

// errorResponse is the JSON body written for any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// respondServiceError maps a service-layer error to an HTTP response and
// writes it. Validation errors and unknown-tenant/unknown-ad are the
// caller's fault (4xx); everything else is logged and returned as a
// generic 500; errors are surfaced to the caller, never swallowed.
func respondServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrUnknownTenant) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, services.ErrUnknownAd) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, services.ErrDuplicateIdempotencyKey) {
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	slog.Error("unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}
