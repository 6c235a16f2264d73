package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/me/resume).
type AuthHandler struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	resume   *iauth.ResumeEvaluator
}

func NewAuthHandler(db *gorm.DB, sessions *iauth.SessionService, resume *iauth.ResumeEvaluator) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, resume: resume}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, session, err := h.sessions.Login(requestContext(c), strings.TrimSpace(req.Identifier), req.Password, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		// All login failures are indistinguishable to the caller
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var principal models.Principal
	if err := h.db.Take(&principal, "id = ?", session.PrincipalID).Error; err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"principal": gin.H{
			"id":                       principal.ID,
			"username":                 principal.Username,
			"email":                    principal.Email,
			"is_super_admin":           principal.IsSuperAdmin,
			"is_partner":               principal.IsPartner,
			"totp_enrolled":            principal.TOTPEnrolled,
			"password_change_required": principal.PasswordChangeRequired,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(sid); err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)
	if principalID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var principal models.Principal
	if err := h.db.Preload("Assignments").Preload("Assignments.Tenant").Take(&principal, "id = ?", principalID).Error; err != nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	memberships := make([]gin.H, 0, len(principal.Assignments))
	for _, assignment := range principal.Assignments {
		entry := gin.H{"tenant_id": assignment.TenantID, "role": assignment.Role}
		if assignment.Tenant != nil {
			entry["tenant_name"] = assignment.Tenant.Name
		}
		memberships = append(memberships, entry)
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":             principal.ID,
		"username":       principal.Username,
		"email":          principal.Email,
		"is_super_admin": principal.IsSuperAdmin,
		"is_partner":     principal.IsPartner,
		"totp_enrolled":  principal.TOTPEnrolled,
		"memberships":    memberships,
	})
}

// GET /api/auth/resume
//
// Reports what the client must do next with an existing session: re-login,
// change password, answer a step-up challenge, or proceed.
func (h *AuthHandler) Resume(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)
	sessionID := c.GetString(middleware.CtxSessionIDKey)
	if principalID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var principal models.Principal
	if err := h.db.Take(&principal, "id = ?", principalID).Error; err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var session *models.PrincipalSession
	if sessionID != "" {
		var record models.PrincipalSession
		if err := h.db.Take(&record, "id = ?", sessionID).Error; err == nil {
			session = &record
		}
	}

	state, err := h.resume.Evaluate(requestContext(c), &principal, session)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": state})
}
