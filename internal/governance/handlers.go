package governance

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/staysettle/internal/validation"
)

// Handler provides HTTP endpoints for governance.
type Handler struct {
	service *Service
}

// NewHandler creates a new governance handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only governance routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/proposals", h.ListProposals)
	r.GET("/proposals/:id", h.GetProposal)
	r.GET("/proposals/:id/votes", h.ListVotes)
}

// RegisterProtectedRoutes sets up governance routes that change state.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/proposals", h.OpenProposal)
	r.POST("/proposals/:id/votes", h.CastVote)
	r.POST("/proposals/:id/finalize", h.Finalize)
}

// OpenProposal handles POST /v1/proposals
func (h *Handler) OpenProposal(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "title and proposer are required"})
		return
	}
	req.Title = validation.SanitizeString(req.Title, 200)
	req.Description = validation.SanitizeString(req.Description, 5000)
	if validation.Respond(c, validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("proposer", req.Proposer, 200),
	)) {
		return
	}

	p, err := h.service.Open(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proposal": p})
}

// GetProposal handles GET /v1/proposals/:id
func (h *Handler) GetProposal(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// ListProposals handles GET /v1/proposals?status=active
func (h *Handler) ListProposals(c *gin.Context) {
	status := Status(c.Query("status"))
	if status != "" && status != StatusActive && status != StatusPassed && status != StatusFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status must be active, passed or failed"})
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	proposals, err := h.service.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

// ListVotes handles GET /v1/proposals/:id/votes
func (h *Handler) ListVotes(c *gin.Context) {
	votes, err := h.service.Votes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"votes": votes, "count": len(votes)})
}

// CastVote handles POST /v1/proposals/:id/votes
func (h *Handler) CastVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "voter and power are required"})
		return
	}

	p, err := h.service.Vote(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// Finalize handles POST /v1/proposals/:id/finalize
func (h *Handler) Finalize(c *gin.Context) {
	p, err := h.service.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProposalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Proposal not found"})
	case errors.Is(err, ErrAlreadyVoted):
		c.JSON(http.StatusConflict, gin.H{"error": "already_voted", "message": err.Error()})
	case errors.Is(err, ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": "already_finalized", "message": err.Error()})
	case errors.Is(err, ErrVotingClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "voting_closed", "message": err.Error()})
	case errors.Is(err, ErrVotingOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "voting_open", "message": err.Error()})
	case errors.Is(err, ErrInvalidPower), errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
