package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/rbac"
	"github.com/finovant/paydesk/internal/stepup"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

type gateFixture struct {
	db       *gorm.DB
	gate     *Gate
	tenant   *models.Tenant
	policies *PolicyService
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	resolver, err := rbac.NewResolver(db)
	require.NoError(t, err)

	totp, err := stepup.NewTOTPService(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	manager, err := stepup.NewManager(db, totp, stepup.Config{})
	require.NoError(t, err)

	ledger, err := audit.NewLedger(db)
	require.NoError(t, err)
	approvalSvc, err := approvals.NewService(db, ledger)
	require.NoError(t, err)
	policies, err := NewPolicyService(db)
	require.NoError(t, err)

	g, err := New(db, resolver, manager, approvalSvc, policies, ledger)
	require.NoError(t, err)

	tenant := &models.Tenant{Name: "acme", Slug: "acme"}
	require.NoError(t, db.Create(tenant).Error)

	return &gateFixture{db: db, gate: g, tenant: tenant, policies: policies}
}

func (f *gateFixture) seedMember(t *testing.T, username string, role models.Role) *models.Principal {
	t.Helper()

	principal := &models.Principal{
		Username: username,
		Email:    username + "@example.com",
		Password: "hashed",
	}
	require.NoError(t, f.db.Create(principal).Error)
	require.NoError(t, f.db.Create(&models.RoleAssignment{
		PrincipalID: principal.ID, TenantID: f.tenant.ID, Role: role,
	}).Error)
	return principal
}

// freshen plants an unexpired verification session so the principal passes
// the step-up check without driving the TOTP flow.
func (f *gateFixture) freshen(t *testing.T, principalID string) {
	t.Helper()

	now := time.Now()
	require.NoError(t, f.db.Create(&models.StepUpSession{
		PrincipalID: principalID,
		Method:      "totp",
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}).Error)
}

func (f *gateFixture) invoke(t *testing.T, principalID, actionType string, payload map[string]any) *Outcome {
	t.Helper()

	outcome, err := f.gate.Invoke(context.Background(), Invocation{
		PrincipalID: principalID,
		TenantID:    f.tenant.ID,
		ActionType:  actionType,
		Payload:     payload,
	})
	require.NoError(t, err)
	return outcome
}

func TestInvokeRejectsUnknownAction(t *testing.T) {
	f := newGateFixture(t)
	viewer := f.seedMember(t, "viewer", models.RoleViewer)

	_, err := f.gate.Invoke(context.Background(), Invocation{
		PrincipalID: viewer.ID,
		TenantID:    f.tenant.ID,
		ActionType:  "refunds.delete",
	})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}

func TestInvokeDeniesMissingPermission(t *testing.T) {
	f := newGateFixture(t)
	viewer := f.seedMember(t, "viewer", models.RoleViewer)

	outcome := f.invoke(t, viewer.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(500)})
	require.Equal(t, StatusDenied, outcome.Status)
	require.Equal(t, apperrors.ErrNotAuthorized.Code, outcome.Reason)
}

func TestInvokeDeniesNonMember(t *testing.T) {
	f := newGateFixture(t)

	stranger := &models.Principal{Username: "stranger", Email: "s@example.com", Password: "hashed"}
	require.NoError(t, f.db.Create(stranger).Error)

	outcome := f.invoke(t, stranger.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(500)})
	require.Equal(t, StatusDenied, outcome.Status)
	require.Equal(t, apperrors.ErrNotMember.Code, outcome.Reason)
}

func TestInvokeBelowThresholdExecutesWithoutStepUp(t *testing.T) {
	f := newGateFixture(t)
	finance := f.seedMember(t, "fin", models.RoleFinance)

	// Default refund policy only engages at 100000 minor units.
	outcome := f.invoke(t, finance.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(2500)})
	require.Equal(t, StatusExecuted, outcome.Status)

	var entry models.AuditEntry
	require.NoError(t, f.db.First(&entry, "action = ? AND result = ?", ActionRefundCreate, models.AuditResultSuccess).Error)
	require.Equal(t, finance.ID, *entry.ActorID)
}

func TestInvokeAboveThresholdRequiresChallengeThenApproval(t *testing.T) {
	f := newGateFixture(t)
	finance := f.seedMember(t, "fin", models.RoleFinance)
	payload := map[string]any{"amount_minor": int64(250_000), "payment_id": "pay-1"}

	outcome := f.invoke(t, finance.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusChallengeRequired, outcome.Status)

	f.freshen(t, finance.ID)
	outcome = f.invoke(t, finance.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusApprovalCreated, outcome.Status)
	require.NotEmpty(t, outcome.ApprovalID)
}

func TestInvokeRequesterRetryDeniedAwaitingApproval(t *testing.T) {
	f := newGateFixture(t)
	finance := f.seedMember(t, "fin", models.RoleFinance)
	f.freshen(t, finance.ID)
	payload := map[string]any{"amount_minor": int64(250_000), "payment_id": "pay-1"}

	first := f.invoke(t, finance.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusApprovalCreated, first.Status)

	retry := f.invoke(t, finance.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusDenied, retry.Status)
	require.Equal(t, apperrors.ErrAwaitingApproval.Code, retry.Reason)

	// AwaitingApproval denials are always recorded, never sampled.
	var entry models.AuditEntry
	require.NoError(t, f.db.First(&entry,
		"action = ? AND result = ?", ActionRefundCreate, models.AuditResultDenied).Error)

	// A second eligible requester lands on the same pending request.
	other := f.seedMember(t, "fin2", models.RoleFinance)
	f.freshen(t, other.ID)
	again := f.invoke(t, other.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusApprovalCreated, again.Status)
	require.Equal(t, first.ApprovalID, again.ApprovalID)
}

func TestManagerRefundDecidedByOwnerEndToEnd(t *testing.T) {
	f := newGateFixture(t)
	manager := f.seedMember(t, "mgr", models.RoleManager)
	owner := f.seedMember(t, "own", models.RoleOwner)
	f.freshen(t, manager.ID)

	executed := 0
	require.NoError(t, f.gate.RegisterExecutor(ActionRefundCreate,
		func(ctx context.Context, tx *gorm.DB, inv Invocation) (map[string]any, error) {
			executed++
			return map[string]any{"refund_id": "rf-1"}, nil
		}))

	payload := map[string]any{"amount_minor": int64(250_000), "payment_id": "pay-7"}
	outcome := f.invoke(t, manager.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusApprovalCreated, outcome.Status)
	require.Zero(t, executed, "side effects must wait for the decision")

	// The owner has to clear step-up before deciding.
	decidePayload := map[string]any{
		"request_id": outcome.ApprovalID,
		"decision":   approvals.DecisionApprove,
		"comment":    "verified with merchant",
	}
	decision := f.invoke(t, owner.ID, ActionApprovalDecide, decidePayload)
	require.Equal(t, StatusChallengeRequired, decision.Status)

	f.freshen(t, owner.ID)
	decision = f.invoke(t, owner.ID, ActionApprovalDecide, decidePayload)
	require.Equal(t, StatusExecuted, decision.Status)
	require.Equal(t, 1, executed)
	require.Equal(t, string(models.ApprovalApproved), decision.Result["status"])

	// Deferred execution audited under the original requester.
	var entry models.AuditEntry
	require.NoError(t, f.db.First(&entry,
		"action = ? AND result = ?", ActionRefundCreate, models.AuditResultSuccess).Error)
	require.Equal(t, manager.ID, *entry.ActorID)

	// A second decider loses the race.
	second := f.seedMember(t, "own2", models.RoleOwner)
	f.freshen(t, second.ID)
	late := f.invoke(t, second.ID, ActionApprovalDecide, decidePayload)
	require.Equal(t, StatusDenied, late.Status)
	require.Equal(t, apperrors.ErrAlreadyDecided.Code, late.Reason)
	require.Equal(t, 1, executed)
}

func TestInvokeDecideRejectsSelfDecision(t *testing.T) {
	f := newGateFixture(t)
	manager := f.seedMember(t, "mgr", models.RoleManager)
	f.freshen(t, manager.ID)

	payload := map[string]any{"amount_minor": int64(250_000)}
	outcome := f.invoke(t, manager.ID, ActionRefundCreate, payload)
	require.Equal(t, StatusApprovalCreated, outcome.Status)

	decision := f.invoke(t, manager.ID, ActionApprovalDecide, map[string]any{
		"request_id": outcome.ApprovalID,
		"decision":   approvals.DecisionApprove,
	})
	require.Equal(t, StatusDenied, decision.Status)
	require.Equal(t, apperrors.ErrSelfDecision.Code, decision.Reason)
}

func TestInvokeRejectDoesNotExecuteDeferredAction(t *testing.T) {
	f := newGateFixture(t)
	manager := f.seedMember(t, "mgr", models.RoleManager)
	owner := f.seedMember(t, "own", models.RoleOwner)
	f.freshen(t, manager.ID)
	f.freshen(t, owner.ID)

	executed := false
	require.NoError(t, f.gate.RegisterExecutor(ActionRefundCreate,
		func(ctx context.Context, tx *gorm.DB, inv Invocation) (map[string]any, error) {
			executed = true
			return nil, nil
		}))

	outcome := f.invoke(t, manager.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(250_000)})
	require.Equal(t, StatusApprovalCreated, outcome.Status)

	decision := f.invoke(t, owner.ID, ActionApprovalDecide, map[string]any{
		"request_id": outcome.ApprovalID,
		"decision":   approvals.DecisionReject,
		"comment":    "unsupported by evidence",
	})
	require.Equal(t, StatusExecuted, decision.Status)
	require.Equal(t, string(models.ApprovalRejected), decision.Result["status"])
	require.False(t, executed)
}

func TestTenantPolicyOverridesPlatformDefault(t *testing.T) {
	f := newGateFixture(t)
	finance := f.seedMember(t, "fin", models.RoleFinance)

	_, err := f.policies.Upsert(context.Background(), f.tenant.ID, models.ActionPolicy{
		ActionType:     ActionRefundCreate,
		StepUpRequired: false,
		DualControl:    false,
	})
	require.NoError(t, err)

	// Large refund executes directly under the relaxed tenant policy.
	outcome := f.invoke(t, finance.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(900_000)})
	require.Equal(t, StatusExecuted, outcome.Status)
}

func TestInvokeDeniedDuringImpersonation(t *testing.T) {
	f := newGateFixture(t)

	admin := &models.Principal{
		Username: "root", Email: "root@example.com", Password: "hashed", IsSuperAdmin: true,
	}
	require.NoError(t, f.db.Create(admin).Error)

	now := time.Now()
	require.NoError(t, f.db.Create(&models.ImpersonationSession{
		SuperAdminID: admin.ID,
		TenantID:     f.tenant.ID,
		StartedAt:    now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}).Error)

	outcome := f.invoke(t, admin.ID, ActionRefundCreate, map[string]any{"amount_minor": int64(500)})
	require.Equal(t, StatusDenied, outcome.Status)
	require.Equal(t, apperrors.ErrImpersonationReadOnly.Code, outcome.Reason)
}

func TestExecutorFailureRollsBackAndRecordsFailure(t *testing.T) {
	f := newGateFixture(t)
	finance := f.seedMember(t, "fin", models.RoleFinance)

	require.NoError(t, f.gate.RegisterExecutor(ActionRefundCreate,
		func(ctx context.Context, tx *gorm.DB, inv Invocation) (map[string]any, error) {
			return nil, apperrors.ErrInternalServer
		}))

	_, err := f.gate.Invoke(context.Background(), Invocation{
		PrincipalID: finance.ID,
		TenantID:    f.tenant.ID,
		ActionType:  ActionRefundCreate,
		Payload:     map[string]any{"amount_minor": int64(500)},
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&models.AuditEntry{}).
		Where("action = ? AND result = ?", ActionRefundCreate, models.AuditResultSuccess).
		Count(&count).Error)
	require.Zero(t, count)

	var failure models.AuditEntry
	require.NoError(t, f.db.First(&failure,
		"action = ? AND result = ?", ActionRefundCreate, models.AuditResultFailure).Error)
}

func TestRegisterExecutorValidation(t *testing.T) {
	f := newGateFixture(t)

	noop := func(ctx context.Context, tx *gorm.DB, inv Invocation) (map[string]any, error) {
		return nil, nil
	}
	require.Error(t, f.gate.RegisterExecutor("refunds.delete", noop))
	require.Error(t, f.gate.RegisterExecutor(ActionApprovalDecide, noop))
}
