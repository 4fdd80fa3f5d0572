package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	billingapp "github.com/userstack/backend/internal/application/billing"
	identityapp "github.com/userstack/backend/internal/application/identity"
	"github.com/userstack/backend/internal/interfaces/http/dto"
	"github.com/userstack/backend/internal/interfaces/http/middleware"
)

// UpgradeHandler starts plan upgrades for identified users
type UpgradeHandler struct {
	BaseHandler
	identify *identityapp.IdentifyService
	upgrade  *billingapp.UpgradeService
}

// NewUpgradeHandler creates a new UpgradeHandler
func NewUpgradeHandler(identify *identityapp.IdentifyService, upgrade *billingapp.UpgradeService) *UpgradeHandler {
	return &UpgradeHandler{identify: identify, upgrade: upgrade}
}

// RegisterRoutes registers upgrade routes on the API group
func (h *UpgradeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upgrade", h.StartUpgrade)
}

// UpgradeRequest names the target plan for a checkout
type UpgradeRequest struct {
	PlanID     string `json:"plan_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"omitempty,url"`
	CancelURL  string `json:"cancel_url" binding:"omitempty,url"`
}

// StartUpgrade records the upgrade intent and returns the hosted checkout
// URL. The group's plan does not change until the confirming billing
// event arrives.
func (h *UpgradeHandler) StartUpgrade(c *gin.Context) {
	sessionID := getSessionID(c)
	if sessionID == "" {
		h.Unauthorized(c, dto.ErrCodeSessionNotFound, "Missing session id")
		return
	}

	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			middleware.HandleValidationError(c, err)
			return
		}
		h.BadRequest(c, "Invalid request body")
		return
	}

	session, err := h.identify.Resolve(c.Request.Context(), sessionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out, err := h.upgrade.StartUpgrade(c.Request.Context(), billingapp.UpgradeInput{
		UserID:     session.UserID,
		GroupID:    session.GroupID,
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, out)
}
