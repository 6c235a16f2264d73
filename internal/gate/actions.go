package gate

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/rbac"
)

// Sensitive action types funneled through the gate.
const (
	ActionRefundCreate      = "refunds.create"
	ActionPayoutCreate      = "payouts.create"
	ActionCredentialsRotate = "credentials.rotate"
	ActionAuditExport       = "audit.export"
	ActionPolicyUpdate      = "policies.update"
	ActionAlertEvaluateNow  = "alerts.evaluate_now"
	ActionApprovalDecide    = "approval.decide"
)

// Executor performs the side effects of an action. It runs inside the same
// transaction as the audit entry recording it, so a failing executor leaves
// no trace of a half-done action.
type Executor func(ctx context.Context, tx *gorm.DB, inv Invocation) (map[string]any, error)

// actionSpec binds an action type to the permission it demands.
type actionSpec struct {
	permission rbac.Permission
}

// actionTable is the static action→permission mapping. Executors are
// registered at wiring time; the permission side never varies per tenant.
var actionTable = map[string]actionSpec{
	ActionRefundCreate:      {permission: rbac.PermRefundsCreate},
	ActionPayoutCreate:      {permission: rbac.PermPayoutsCreate},
	ActionCredentialsRotate: {permission: rbac.PermCredentialsRotate},
	ActionAuditExport:       {permission: rbac.PermAuditExport},
	ActionPolicyUpdate:      {permission: rbac.PermPoliciesManage},
	ActionAlertEvaluateNow:  {permission: rbac.PermAlertsManage},
	ActionApprovalDecide:    {permission: rbac.PermApprovalsDecide},
}

// KnownAction reports whether the gate recognises the action type.
func KnownAction(actionType string) bool {
	_, ok := actionTable[actionType]
	return ok
}

// payloadAmount extracts the magnitude a threshold policy compares against:
// amount_minor for payment actions, rows for exports. Payloads decoded from
// JSON carry float64 or json.Number, so all numeric shapes are accepted.
func payloadAmount(payload map[string]any) (int64, bool) {
	for _, key := range []string{"amount_minor", "rows"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case int64:
			return v, true
		case int:
			return int64(v), true
		case float64:
			return int64(v), true
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
