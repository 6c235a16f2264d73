package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/rbac"
	"github.com/finovant/paydesk/internal/stepup"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
)

// Status is the disposition of an Invoke call. ChallengeRequired and
// ApprovalCreated are not failures: they tell the caller to come back after
// the human-latency step and retry with the same payload.
type Status string

const (
	StatusExecuted          Status = "executed"
	StatusChallengeRequired Status = "challenge_required"
	StatusApprovalCreated   Status = "approval_created"
	StatusDenied            Status = "denied"
)

// Outcome is the result of routing one invocation through the gate.
type Outcome struct {
	Status     Status         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Invocation is a sensitive action attempt by a principal against a tenant.
type Invocation struct {
	PrincipalID string
	TenantID    string
	ActionType  string
	Payload     map[string]any
}

// Gate is the single funnel every sensitive mutation passes through. It
// checks permission, step-up freshness, and dual-control policy in that
// order; only an invocation that clears all three executes.
type Gate struct {
	db           *gorm.DB
	resolver     *rbac.Resolver
	verification *stepup.Manager
	approvals    *approvals.Service
	policies     *PolicyService
	ledger       *audit.Ledger

	mu        sync.RWMutex
	executors map[string]Executor
}

// New constructs a Gate over its collaborator services.
func New(db *gorm.DB, resolver *rbac.Resolver, verification *stepup.Manager, approvalSvc *approvals.Service, policies *PolicyService, ledger *audit.Ledger) (*Gate, error) {
	if db == nil {
		return nil, errors.New("gate: db is required")
	}
	if resolver == nil || verification == nil || approvalSvc == nil || policies == nil || ledger == nil {
		return nil, errors.New("gate: all collaborator services are required")
	}
	return &Gate{
		db:           db,
		resolver:     resolver,
		verification: verification,
		approvals:    approvalSvc,
		policies:     policies,
		ledger:       ledger,
		executors:    make(map[string]Executor),
	}, nil
}

// RegisterExecutor binds the side effects of an action type. Actions without
// an executor still audit and report executed; the business effect then lives
// with the caller reading the outcome.
func (g *Gate) RegisterExecutor(actionType string, exec Executor) error {
	if !KnownAction(actionType) {
		return fmt.Errorf("gate: unknown action type %q", actionType)
	}
	if actionType == ActionApprovalDecide {
		return fmt.Errorf("gate: %s executor is built in", ActionApprovalDecide)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executors[actionType] = exec
	return nil
}

// Invoke routes one sensitive action: permission, step-up, dual control,
// then execution with a first-class audit entry. Every denied path is itself
// audited before returning.
func (g *Gate) Invoke(ctx context.Context, inv Invocation) (*Outcome, error) {
	ctx = ensureContext(ctx)

	inv.PrincipalID = strings.TrimSpace(inv.PrincipalID)
	inv.TenantID = strings.TrimSpace(inv.TenantID)
	inv.ActionType = strings.TrimSpace(inv.ActionType)
	if inv.PrincipalID == "" || inv.TenantID == "" || inv.ActionType == "" {
		return nil, apperrors.NewBadRequest("principal, tenant and action type are required")
	}

	spec, ok := actionTable[inv.ActionType]
	if !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown action type %q", inv.ActionType))
	}

	allowed, reason, err := g.authorize(ctx, inv, spec.permission)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return g.deny(ctx, inv, reason)
	}

	policy, err := g.policies.Lookup(ctx, inv.TenantID, inv.ActionType)
	if err != nil {
		return nil, err
	}
	stepUpRequired, dualControl := effectiveFlags(policy, inv.Payload)

	if stepUpRequired {
		fresh, err := g.verification.IsFresh(ctx, inv.PrincipalID)
		if err != nil {
			return nil, err
		}
		if !fresh {
			metrics.GateDecisions.WithLabelValues(inv.ActionType, string(StatusChallengeRequired)).Inc()
			return &Outcome{Status: StatusChallengeRequired}, nil
		}
	}

	if dualControl {
		return g.deferToApproval(ctx, inv)
	}

	return g.execute(ctx, inv)
}

// authorize resolves the principal's permission set and applies the owner
// floor. The returned reason distinguishes non-membership, impersonation
// read-only, and a plain missing permission for the audit trail; callers
// surface all three identically.
func (g *Gate) authorize(ctx context.Context, inv Invocation, perm rbac.Permission) (bool, string, error) {
	res, err := g.resolver.Resolve(ctx, inv.PrincipalID, inv.TenantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotMember) {
			return false, apperrors.ErrNotMember.Code, nil
		}
		return false, "", err
	}

	if res.Allows(perm) {
		return true, "", nil
	}
	if res.Impersonating {
		return false, apperrors.ErrImpersonationReadOnly.Code, nil
	}
	return false, apperrors.ErrNotAuthorized.Code, nil
}

// deferToApproval rejects a requester retrying their own pending approval,
// otherwise ensures a pending request exists for the action.
func (g *Gate) deferToApproval(ctx context.Context, inv Invocation) (*Outcome, error) {
	pending, err := g.approvals.FindPending(ctx, inv.TenantID, inv.ActionType, inv.Payload)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.RequestedBy == inv.PrincipalID {
		return g.deny(ctx, inv, apperrors.ErrAwaitingApproval.Code)
	}

	request, _, err := g.approvals.Create(ctx, approvals.CreateInput{
		TenantID:    inv.TenantID,
		ActionType:  inv.ActionType,
		Payload:     inv.Payload,
		RequestedBy: inv.PrincipalID,
	})
	if err != nil {
		return nil, err
	}

	metrics.GateDecisions.WithLabelValues(inv.ActionType, string(StatusApprovalCreated)).Inc()
	return &Outcome{Status: StatusApprovalCreated, ApprovalID: request.ID}, nil
}

func (g *Gate) execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	if inv.ActionType == ActionApprovalDecide {
		return g.decide(ctx, inv)
	}

	g.mu.RLock()
	exec := g.executors[inv.ActionType]
	g.mu.RUnlock()

	result := map[string]any{"completed": true}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exec != nil {
			var execErr error
			result, execErr = exec(ctx, tx, inv)
			if execErr != nil {
				return execErr
			}
		}

		_, err := g.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &inv.TenantID,
			ActorID:  &inv.PrincipalID,
			Action:   inv.ActionType,
			Result:   models.AuditResultSuccess,
			After:    inv.Payload,
		})
		return err
	})
	if err != nil {
		if recordErr := g.recordFailure(ctx, inv, err); recordErr != nil {
			return nil, recordErr
		}
		return nil, err
	}

	metrics.GateDecisions.WithLabelValues(inv.ActionType, string(StatusExecuted)).Inc()
	return &Outcome{Status: StatusExecuted, Result: result}, nil
}

// decide runs the built-in approval.decide action. Decide owns its own
// transaction: the status flip, the deferred execution, and the audit entry
// commit together. Race losers and self-deciders surface as Denied outcomes,
// not errors, matching the rest of the gate's vocabulary.
func (g *Gate) decide(ctx context.Context, inv Invocation) (*Outcome, error) {
	requestID, _ := inv.Payload["request_id"].(string)
	decision, _ := inv.Payload["decision"].(string)
	comment, _ := inv.Payload["comment"].(string)
	if requestID == "" || decision == "" {
		return nil, apperrors.NewBadRequest("request_id and decision are required")
	}

	decided, err := g.approvals.Decide(ctx, inv.TenantID, requestID, inv.PrincipalID, decision, comment, g.runDeferred)
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyDecided) {
			return g.deny(ctx, inv, apperrors.ErrAlreadyDecided.Code)
		}
		if errors.Is(err, apperrors.ErrSelfDecision) {
			return g.deny(ctx, inv, apperrors.ErrSelfDecision.Code)
		}
		return nil, err
	}

	metrics.GateDecisions.WithLabelValues(inv.ActionType, string(StatusExecuted)).Inc()
	return &Outcome{
		Status: StatusExecuted,
		Result: map[string]any{
			"request_id": decided.ID,
			"status":     string(decided.Status),
		},
	}, nil
}

// runDeferred performs the original action's side effects when its approval
// is granted, inside the deciding transaction.
func (g *Gate) runDeferred(ctx context.Context, tx *gorm.DB, request *models.ApprovalRequest) error {
	var payload map[string]any
	if len(request.ActionPayload) > 0 {
		if err := json.Unmarshal(request.ActionPayload, &payload); err != nil {
			return fmt.Errorf("gate: decode deferred payload: %w", err)
		}
	}

	inv := Invocation{
		PrincipalID: request.RequestedBy,
		TenantID:    request.TenantID,
		ActionType:  request.ActionType,
		Payload:     payload,
	}

	g.mu.RLock()
	exec := g.executors[request.ActionType]
	g.mu.RUnlock()

	if exec != nil {
		if _, err := exec(ctx, tx, inv); err != nil {
			return err
		}
	}

	_, err := g.ledger.WithTx(tx).Append(ctx, audit.Entry{
		TenantID: &request.TenantID,
		ActorID:  &request.RequestedBy,
		Action:   request.ActionType,
		Result:   models.AuditResultSuccess,
		After:    payload,
	})
	return err
}

func (g *Gate) deny(ctx context.Context, inv Invocation, reason string) (*Outcome, error) {
	_, err := g.ledger.AppendDenial(ctx, audit.Entry{
		TenantID: &inv.TenantID,
		ActorID:  &inv.PrincipalID,
		Action:   inv.ActionType,
	}, reason)
	if err != nil {
		return nil, err
	}

	metrics.GateDecisions.WithLabelValues(inv.ActionType, string(StatusDenied)).Inc()
	return &Outcome{Status: StatusDenied, Reason: reason}, nil
}

// recordFailure appends a failure entry for an execution whose transaction
// rolled back. If the ledger is unavailable too, its error wins.
func (g *Gate) recordFailure(ctx context.Context, inv Invocation, cause error) error {
	_, err := g.ledger.Append(ctx, audit.Entry{
		TenantID: &inv.TenantID,
		ActorID:  &inv.PrincipalID,
		Action:   inv.ActionType,
		Result:   models.AuditResultFailure,
		After:    map[string]any{"error": apperrors.FromError(cause).Code},
	})
	return err
}

// effectiveFlags applies the amount threshold: below it, the policy's
// requirements do not engage and the action runs as an ordinary
// permission-checked mutation.
func effectiveFlags(policy ResolvedPolicy, payload map[string]any) (stepUp, dual bool) {
	if policy.AmountThreshold != nil {
		if amount, ok := payloadAmount(payload); ok && amount < *policy.AmountThreshold {
			return false, false
		}
	}
	return policy.StepUpRequired, policy.DualControl
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
