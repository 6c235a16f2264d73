package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/impersonation"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/pkg/response"
)

// ImpersonationHandler manages super-admin view-as-tenant sessions.
type ImpersonationHandler struct {
	svc *impersonation.Service
}

func NewImpersonationHandler(svc *impersonation.Service) *ImpersonationHandler {
	return &ImpersonationHandler{svc: svc}
}

type startImpersonationRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
}

// POST /api/impersonation/start
func (h *ImpersonationHandler) Start(c *gin.Context) {
	var req startImpersonationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.svc.Start(requestContext(c), c.GetString(middleware.CtxPrincipalIDKey), strings.TrimSpace(req.TenantID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

type stopImpersonationRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// POST /api/impersonation/stop
func (h *ImpersonationHandler) Stop(c *gin.Context) {
	var req stopImpersonationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.Stop(requestContext(c), c.GetString(middleware.CtxPrincipalIDKey), strings.TrimSpace(req.SessionID)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stopped": true})
}

// GET /api/impersonation/active
func (h *ImpersonationHandler) Active(c *gin.Context) {
	session, err := h.svc.ActiveFor(requestContext(c), c.GetString(middleware.CtxPrincipalIDKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	if session == nil {
		response.Success(c, http.StatusOK, gin.H{"active": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"active": true, "session": session})
}
