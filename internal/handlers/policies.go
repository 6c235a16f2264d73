package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/pkg/response"
)

// PolicyHandler reads tenant action policies; changes route through the gate
// as policies.update so they are step-up gated and audited.
type PolicyHandler struct {
	policies *gate.PolicyService
	gate     *gate.Gate
}

func NewPolicyHandler(policies *gate.PolicyService, g *gate.Gate) *PolicyHandler {
	return &PolicyHandler{policies: policies, gate: g}
}

// GET /api/tenants/:tenantId/policies
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.policies.List(requestContext(c), c.Param("tenantId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, policies)
}

type upsertPolicyRequest struct {
	ActionType      string `json:"action_type" validate:"required"`
	StepUpRequired  bool   `json:"step_up_required"`
	DualControl     bool   `json:"dual_control"`
	AmountThreshold *int64 `json:"amount_threshold"`
}

// PUT /api/tenants/:tenantId/policies
func (h *PolicyHandler) Upsert(c *gin.Context) {
	var req upsertPolicyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payload := map[string]any{
		"action_type":      req.ActionType,
		"step_up_required": req.StepUpRequired,
		"dual_control":     req.DualControl,
	}
	if req.AmountThreshold != nil {
		payload["amount_threshold"] = *req.AmountThreshold
	}

	outcome, err := h.gate.Invoke(requestContext(c), gate.Invocation{
		PrincipalID: c.GetString(middleware.CtxPrincipalIDKey),
		TenantID:    c.Param("tenantId"),
		ActionType:  gate.ActionPolicyUpdate,
		Payload:     payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeOutcome(c, outcome)
}
