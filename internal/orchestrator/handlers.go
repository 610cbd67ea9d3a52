package orchestrator

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/staysettle/internal/beckn"
	"github.com/mbd888/staysettle/internal/validation"
)

// Handler provides HTTP endpoints for discovery and the order lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/search", h.Search)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/transactions/:transactionId/order", h.GetByTransaction)
}

// RegisterProtectedRoutes sets up routes that talk to the network on the
// caller's behalf and move order state.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.Select)
	r.POST("/orders/:id/init", h.Init)
	r.POST("/orders/:id/confirm", h.Confirm)
	r.POST("/orders/:id/track", h.Track)
	r.POST("/orders/:id/cancel", h.Cancel)
	r.POST("/orders/:id/support", h.Support)
	r.POST("/providers", h.RegisterProvider)
	r.PUT("/providers/:providerId/catalog", h.UpdateCatalog)
}

// Search handles POST /v1/search
func (h *Handler) Search(c *gin.Context) {
	var intent beckn.Intent
	// Every field is optional.
	_ = c.ShouldBindJSON(&intent)
	if intent.MinPrice != nil && intent.MaxPrice != nil && intent.MinPrice.GreaterThan(*intent.MaxPrice) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "minPrice exceeds maxPrice"})
		return
	}

	result := h.service.Search(c.Request.Context(), intent)
	providers := slices.Collect(result.All())
	resp := gin.H{
		"transactionId": result.TransactionID,
		"providers":     providers,
		"count":         len(providers),
	}
	if result.Err != nil {
		resp["warning"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ListOrders handles GET /v1/orders?state=confirmed
func (h *Handler) ListOrders(c *gin.Context) {
	state := State(c.Query("state"))
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	orders, err := h.service.List(c.Request.Context(), state, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetByTransaction handles GET /v1/transactions/:transactionId/order
func (h *Handler) GetByTransaction(c *gin.Context) {
	order, err := h.service.GetByTransaction(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Select handles POST /v1/orders
func (h *Handler) Select(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "payerId, providerId and itemIds are required"})
		return
	}
	if validation.Respond(c, validation.Validate(
		validation.MaxLength("payerId", req.PayerID, 200),
		validation.MaxLength("providerId", req.ProviderID, 200),
	)) {
		return
	}

	order, err := h.service.Select(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// Init handles POST /v1/orders/:id/init
func (h *Handler) Init(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "billing and fulfillment are required"})
		return
	}

	order, err := h.service.Init(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Confirm handles POST /v1/orders/:id/confirm
func (h *Handler) Confirm(c *gin.Context) {
	order, err := h.service.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Track handles POST /v1/orders/:id/track
func (h *Handler) Track(c *gin.Context) {
	order, err := h.service.Track(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Cancel handles POST /v1/orders/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	// Body is optional.
	_ = c.ShouldBindJSON(&req)

	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Reason, 500))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Support handles POST /v1/orders/:id/support
func (h *Handler) Support(c *gin.Context) {
	var req SupportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "issueType is required"})
		return
	}
	req.IssueType = validation.SanitizeString(req.IssueType, 100)

	ticket, err := h.service.Support(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"support": ticket})
}

// RegisterProvider handles POST /v1/providers
func (h *Handler) RegisterProvider(c *gin.Context) {
	var provider beckn.Provider
	if err := c.ShouldBindJSON(&provider); err != nil || provider.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "provider id is required"})
		return
	}

	networkID, err := h.service.RegisterProvider(c.Request.Context(), &provider)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"providerId": networkID})
}

// UpdateCatalog handles PUT /v1/providers/:providerId/catalog
func (h *Handler) UpdateCatalog(c *gin.Context) {
	var catalog beckn.Catalog
	if err := c.ShouldBindJSON(&catalog); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "catalog body is required"})
		return
	}

	if err := h.service.UpdateCatalog(c.Request.Context(), c.Param("providerId"), &catalog); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providerId": c.Param("providerId"), "updated": true})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		integrity *IntegrityError
		transport *beckn.TransportError
		nack      *beckn.ProtocolError
	)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Order not found"})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.As(err, &integrity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "integrity_error", "message": err.Error(), "invariant": integrity.Invariant})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.As(err, &transport):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_error", "message": err.Error(), "retryable": transport.Retryable})
	case errors.As(err, &nack):
		c.JSON(http.StatusBadGateway, gin.H{"error": "network_error", "message": err.Error(), "code": nack.Code})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
