package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/pkg/response"
)

// ApprovalHandler lists pending approvals and routes decisions through the
// gate so step-up and audit apply to the decision itself.
type ApprovalHandler struct {
	approvals *approvals.Service
	gate      *gate.Gate
}

func NewApprovalHandler(svc *approvals.Service, g *gate.Gate) *ApprovalHandler {
	return &ApprovalHandler{approvals: svc, gate: g}
}

// GET /api/tenants/:tenantId/approvals?status=pending&limit=50
func (h *ApprovalHandler) List(c *gin.Context) {
	status := models.ApprovalStatus(strings.TrimSpace(c.Query("status")))

	requests, err := h.approvals.List(requestContext(c), approvals.ListInput{
		TenantID: c.Param("tenantId"),
		Status:   status,
		Limit:    parseIntQuery(c, "limit", 50),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, requests)
}

// GET /api/tenants/:tenantId/approvals/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	request, err := h.approvals.Get(requestContext(c), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, request)
}

type decideRequest struct {
	Decision string `json:"decision" validate:"required"`
	Comment  string `json:"comment"`
}

// POST /api/tenants/:tenantId/approvals/:id/decide
//
// Deciding is itself a sensitive action: it goes through the gate, which
// pins a fresh step-up requirement on it and audits the decision.
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req decideRequest
	if !bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.gate.Invoke(requestContext(c), gate.Invocation{
		PrincipalID: c.GetString(middleware.CtxPrincipalIDKey),
		TenantID:    c.Param("tenantId"),
		ActionType:  gate.ActionApprovalDecide,
		Payload: map[string]any{
			"request_id": c.Param("id"),
			"decision":   strings.TrimSpace(req.Decision),
			"comment":    strings.TrimSpace(req.Comment),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeOutcome(c, outcome)
}
