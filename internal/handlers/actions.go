package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/middleware"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// ActionHandler funnels sensitive mutations through the gate.
type ActionHandler struct {
	gate *gate.Gate
}

func NewActionHandler(g *gate.Gate) *ActionHandler {
	return &ActionHandler{gate: g}
}

// POST /api/tenants/:tenantId/actions/:actionType
func (h *ActionHandler) Invoke(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return
	}

	outcome, err := h.gate.Invoke(requestContext(c), gate.Invocation{
		PrincipalID: c.GetString(middleware.CtxPrincipalIDKey),
		TenantID:    c.Param("tenantId"),
		ActionType:  c.Param("actionType"),
		Payload:     payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	writeOutcome(c, outcome)
}

// denialSentinels maps gate denial reasons to the HTTP error surface. Reasons
// absent from the map collapse to the generic permission denial so responses
// never leak why access was refused.
var denialSentinels = map[string]*apperrors.AppError{
	apperrors.ErrAwaitingApproval.Code:      apperrors.ErrAwaitingApproval,
	apperrors.ErrAlreadyDecided.Code:        apperrors.ErrAlreadyDecided,
	apperrors.ErrSelfDecision.Code:          apperrors.ErrSelfDecision,
	apperrors.ErrImpersonationReadOnly.Code: apperrors.ErrImpersonationReadOnly,
}

func writeOutcome(c *gin.Context, outcome *gate.Outcome) {
	switch outcome.Status {
	case gate.StatusExecuted:
		response.Success(c, http.StatusOK, outcome)
	case gate.StatusApprovalCreated:
		response.Success(c, http.StatusAccepted, outcome)
	case gate.StatusChallengeRequired:
		response.Error(c, apperrors.ErrStepUpRequired)
	case gate.StatusDenied:
		if sentinel, ok := denialSentinels[outcome.Reason]; ok {
			response.Error(c, sentinel)
			return
		}
		response.Error(c, apperrors.ErrNotAuthorized)
	default:
		response.Error(c, apperrors.ErrInternalServer)
	}
}
