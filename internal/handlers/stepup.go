package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/stepup"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// StepUpHandler exposes TOTP enrollment and challenge verification.
type StepUpHandler struct {
	db      *gorm.DB
	totp    *stepup.TOTPService
	manager *stepup.Manager
}

func NewStepUpHandler(db *gorm.DB, totp *stepup.TOTPService, manager *stepup.Manager) *StepUpHandler {
	return &StepUpHandler{db: db, totp: totp, manager: manager}
}

// POST /api/stepup/enroll
func (h *StepUpHandler) BeginEnrollment(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)

	var principal models.Principal
	if err := h.db.Take(&principal, "id = ?", principalID).Error; err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	enrollment, err := h.totp.BeginEnrollment(principal.ID, principal.Username)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{
		"uri":              enrollment.URI,
		"recovery_codes":   enrollment.RecoveryCodes,
		"enrollment_token": enrollment.Token,
	}
	if len(enrollment.QRCode) > 0 {
		payload["qr_code"] = base64.StdEncoding.EncodeToString(enrollment.QRCode)
	}

	response.Success(c, http.StatusOK, payload)
}

type activateRequest struct {
	Token string `json:"enrollment_token" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// POST /api/stepup/enroll/activate
//
// Nothing was stored at enrollment; the sealed token carries the pending
// secret and a correct code commits it.
func (h *StepUpHandler) ActivateEnrollment(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)

	var req activateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.totp.ActivateEnrollment(principalID, strings.TrimSpace(req.Token), strings.TrimSpace(req.Code)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activated": true})
}

type challengeRequest struct {
	TenantID string `json:"tenant_id"`
}

// POST /api/stepup/challenge
func (h *StepUpHandler) Challenge(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)

	// Body is optional; a tenant scope merely narrows the freshness window.
	var req challengeRequest
	_ = c.ShouldBindJSON(&req)

	challenge, err := h.manager.Challenge(requestContext(c), principalID, strings.TrimSpace(req.TenantID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"challenge_id": challenge.ID,
		"expires_at":   challenge.ExpiresAt,
	})
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	Code        string `json:"code" validate:"required"`
}

// POST /api/stepup/verify
func (h *StepUpHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.manager.Verify(requestContext(c), strings.TrimSpace(req.ChallengeID), strings.TrimSpace(req.Code))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"verified":   true,
		"expires_at": session.ExpiresAt,
	})
}
