package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/staysettle/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrow", h.ListHolds)
	r.GET("/escrow/:bookingId", h.GetHold)
}

// RegisterProtectedRoutes sets up escrow routes that move state.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:bookingId/check-in", h.ConfirmCheckIn)
	r.POST("/escrow/:bookingId/check-out", h.ConfirmCheckOut)
	r.POST("/escrow/:bookingId/dispute", h.OpenDispute)
	r.POST("/escrow/:bookingId/resolve", h.ResolveDispute)
	r.POST("/escrow/:bookingId/cancel", h.Cancel)
}

// GetHold handles GET /v1/escrow/:bookingId
func (h *Handler) GetHold(c *gin.Context) {
	hold, err := h.service.Get(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// ListHolds handles GET /v1/escrow?status=held
func (h *Handler) ListHolds(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusHeld)))
	if status != StatusHeld && status != StatusReleased && status != StatusRefunded {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status must be held, released or refunded"})
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	holds, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrows": holds, "count": len(holds)})
}

// ConfirmCheckIn handles POST /v1/escrow/:bookingId/check-in
func (h *Handler) ConfirmCheckIn(c *gin.Context) {
	hold, err := h.service.ConfirmCheckIn(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// ConfirmCheckOut handles POST /v1/escrow/:bookingId/check-out
func (h *Handler) ConfirmCheckOut(c *gin.Context) {
	hold, err := h.service.ConfirmCheckOut(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// OpenDispute handles POST /v1/escrow/:bookingId/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "raisedBy and reason are required"})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, 1000)
	if validation.Respond(c, validation.Validate(validation.MaxLength("raisedBy", req.RaisedBy, 200))) {
		return
	}

	hold, err := h.service.OpenDispute(c.Request.Context(), c.Param("bookingId"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// ResolveDispute handles POST /v1/escrow/:bookingId/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "outcome is required"})
		return
	}

	hold, err := h.service.ResolveDispute(c.Request.Context(), c.Param("bookingId"), req.Outcome)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

// Cancel handles POST /v1/escrow/:bookingId/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	// Body is optional.
	_ = c.ShouldBindJSON(&req)

	hold, err := h.service.Cancel(c.Request.Context(), c.Param("bookingId"), validation.SanitizeString(req.Reason, 500))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": hold})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrHoldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Escrow hold not found"})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": err.Error()})
	case errors.Is(err, ErrStaleHold):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "Escrow hold changed, retry the request"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	case errors.Is(err, ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_outcome", "message": "outcome must be release or refund"})
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
