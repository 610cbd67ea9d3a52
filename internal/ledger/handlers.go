package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for ledger queries
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/accounts/:id/balance", h.GetBalance)
	r.GET("/ledger/accounts/:id/entries", h.GetEntries)
	r.GET("/ledger/references/:reference", h.GetReference)
}

// GetBalance handles GET /v1/ledger/accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.ledger.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetEntries handles GET /v1/ledger/accounts/:id/entries
func (h *Handler) GetEntries(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	entries, err := h.ledger.Entries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetReference handles GET /v1/ledger/references/:reference
func (h *Handler) GetReference(c *gin.Context) {
	entries, err := h.ledger.ByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Reference not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
