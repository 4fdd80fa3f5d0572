package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	identityapp "github.com/userstack/backend/internal/application/identity"
	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/interfaces/http/dto"
	"github.com/userstack/backend/internal/interfaces/http/middleware"
)

// SessionHandler serves identify, refresh, flags, and logout
type SessionHandler struct {
	BaseHandler
	identify *identityapp.IdentifyService
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(identify *identityapp.IdentifyService) *SessionHandler {
	return &SessionHandler{identify: identify}
}

// RegisterRoutes registers session routes on the API group
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/identify", h.Identify)
	rg.POST("/sessions/refresh", h.Refresh)
	rg.GET("/flags", h.Flags)
	rg.DELETE("/sessions", h.Logout)
}

// IdentifyRequest carries the provider token to exchange for a session.
// GroupHint optionally names the group to identify into, overriding the
// token's group claim.
type IdentifyRequest struct {
	Token     string `json:"token" binding:"required"`
	GroupHint string `json:"group_hint" binding:"omitempty,max=100"`
}

// Identify exchanges a provider-issued token for a session.
// New users and groups are provisioned on first sight.
func (h *SessionHandler) Identify(c *gin.Context) {
	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			middleware.HandleValidationError(c, err)
			return
		}
		h.BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.identify.Identify(c.Request.Context(), req.Token, req.GroupHint)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, result)
}

// Refresh extends the session named by the X-Session-ID header and
// returns freshly computed flags
func (h *SessionHandler) Refresh(c *gin.Context) {
	sessionID := getSessionID(c)
	if sessionID == "" {
		h.Unauthorized(c, dto.ErrCodeSessionNotFound, "Missing session id")
		return
	}

	result, err := h.identify.Refresh(c.Request.Context(), sessionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// FlagsResponse is the flag set for the session's group
type FlagsResponse struct {
	Flags entitlement.FlagSet `json:"flags"`
}

// Flags returns the cached flag set for the session's group
func (h *SessionHandler) Flags(c *gin.Context) {
	sessionID := getSessionID(c)
	if sessionID == "" {
		h.Unauthorized(c, dto.ErrCodeSessionNotFound, "Missing session id")
		return
	}

	flags, err := h.identify.GetFlags(c.Request.Context(), sessionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, FlagsResponse{Flags: flags})
}

// Logout revokes the session named by the X-Session-ID header. Revoking
// an unknown session is not an error.
func (h *SessionHandler) Logout(c *gin.Context) {
	sessionID := getSessionID(c)
	if sessionID == "" {
		h.Unauthorized(c, dto.ErrCodeSessionNotFound, "Missing session id")
		return
	}

	if err := h.identify.Logout(c.Request.Context(), sessionID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
