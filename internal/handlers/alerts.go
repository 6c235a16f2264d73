package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/alerts"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/pkg/response"
)

// AlertHandler manages alert rules and their fired events.
type AlertHandler struct {
	evaluator *alerts.Evaluator
	gate      *gate.Gate
}

func NewAlertHandler(evaluator *alerts.Evaluator, g *gate.Gate) *AlertHandler {
	return &AlertHandler{evaluator: evaluator, gate: g}
}

// GET /api/tenants/:tenantId/alerts/rules
func (h *AlertHandler) ListRules(c *gin.Context) {
	rules, err := h.evaluator.ListRules(requestContext(c), c.Param("tenantId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, rules)
}

type createRuleRequest struct {
	Type          string `json:"type"`
	Action        string `json:"action" validate:"required"`
	WindowSeconds int    `json:"window_seconds" validate:"required,min=1"`
	Threshold     int    `json:"threshold" validate:"required,min=1"`
	PerActor      bool   `json:"per_actor"`
}

// POST /api/tenants/:tenantId/alerts/rules
func (h *AlertHandler) CreateRule(c *gin.Context) {
	var req createRuleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	rule, err := h.evaluator.CreateRule(requestContext(c), models.AlertRule{
		TenantID:      c.Param("tenantId"),
		Type:          strings.TrimSpace(req.Type),
		Action:        strings.TrimSpace(req.Action),
		WindowSeconds: req.WindowSeconds,
		Threshold:     req.Threshold,
		PerActor:      req.PerActor,
		Enabled:       true,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, rule)
}

type setRuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// POST /api/tenants/:tenantId/alerts/rules/:id/enabled
func (h *AlertHandler) SetRuleEnabled(c *gin.Context) {
	var req setRuleEnabledRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.evaluator.SetRuleEnabled(requestContext(c), c.Param("tenantId"), c.Param("id"), req.Enabled); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enabled": req.Enabled})
}

// GET /api/tenants/:tenantId/alerts/events?unresolved=true
func (h *AlertHandler) ListEvents(c *gin.Context) {
	unresolvedOnly := c.Query("unresolved") == "true"

	events, err := h.evaluator.ListEvents(requestContext(c), c.Param("tenantId"), unresolvedOnly)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, events)
}

// POST /api/tenants/:tenantId/alerts/events/:id/resolve
func (h *AlertHandler) ResolveEvent(c *gin.Context) {
	principalID := c.GetString(middleware.CtxPrincipalIDKey)

	if err := h.evaluator.Resolve(requestContext(c), c.Param("tenantId"), c.Param("id"), principalID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resolved": true})
}

// POST /api/tenants/:tenantId/alerts/evaluate
//
// On-demand evaluation is a gated action so it demands fresh step-up.
func (h *AlertHandler) EvaluateNow(c *gin.Context) {
	outcome, err := h.gate.Invoke(requestContext(c), gate.Invocation{
		PrincipalID: c.GetString(middleware.CtxPrincipalIDKey),
		TenantID:    c.Param("tenantId"),
		ActionType:  gate.ActionAlertEvaluateNow,
		Payload:     map[string]any{},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeOutcome(c, outcome)
}
