package distribution

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/mbd888/staysettle/internal/validation"
)

// Handler provides HTTP endpoints for distribution rules.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new distribution handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up read-only distribution routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/distribution/rules", h.GetRules)
	r.GET("/distribution/rules/:version", h.GetVersion)
	r.POST("/distribution/preview", h.Preview)
}

// RegisterProtectedRoutes sets up routes that change the rules.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PUT("/distribution/rules", h.RegisterRules)
}

// GetRules handles GET /v1/distribution/rules
func (h *Handler) GetRules(c *gin.Context) {
	rs, err := h.ledger.Snapshot(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrNoRules) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No distribution rules registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ruleSet": rs})
}

// GetVersion handles GET /v1/distribution/rules/:version
func (h *Handler) GetVersion(c *gin.Context) {
	v, err := strconv.Atoi(c.Param("version"))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "version must be a positive integer"})
		return
	}
	rs, err := h.ledger.Version(c.Request.Context(), v)
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Rule set version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ruleSet": rs})
}

// RegisterRules handles PUT /v1/distribution/rules
func (h *Handler) RegisterRules(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	rs, err := h.ledger.RegisterRules(c.Request.Context(), req)
	if err != nil {
		var ruleErr *RuleError
		if errors.As(err, &ruleErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid_rules",
				"message": ruleErr.Error(),
				"index":   ruleErr.Index,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ruleSet": rs})
}

type previewRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Preview handles POST /v1/distribution/preview
func (h *Handler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if validation.Respond(c, validation.Validate(validation.ValidAmount("amount", req.Amount))) {
		return
	}
	total, _ := money.Parse(req.Amount)

	shares, err := h.ledger.Preview(c.Request.Context(), total)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoRules):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No distribution rules registered"})
		case errors.Is(err, ErrUnsatisfiableBounds):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsatisfiable_bounds", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": money.Format(total), "shares": shares})
}
