package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/alerts"
	"github.com/finovant/paydesk/internal/api"
	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/audit"
	iauth "github.com/finovant/paydesk/internal/auth"
	sharedtestutil "github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/impersonation"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/app"
	"github.com/finovant/paydesk/internal/rbac"
	"github.com/finovant/paydesk/internal/security"
	"github.com/finovant/paydesk/internal/stepup"
	"github.com/finovant/paydesk/pkg/crypto"
	"github.com/finovant/paydesk/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Gate   *gate.Gate
}

// NewEnv provisions a fresh handler test environment with migrations applied
// and the full service stack wired behind the router.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-suite-super-secret-key-32-bytes!!",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: 24 * time.Hour,
		RefreshLength:   48,
	})
	require.NoError(t, err)

	resume, err := iauth.NewResumeEvaluator(db)
	require.NoError(t, err)

	ledger, err := audit.NewLedger(db)
	require.NoError(t, err)

	resolver, err := rbac.NewResolver(db)
	require.NoError(t, err)

	totp, err := stepup.NewTOTPService(db, bytes.Repeat([]byte{0x42}, 32), stepup.WithIssuer("test-suite"))
	require.NoError(t, err)

	manager, err := stepup.NewManager(db, totp, stepup.Config{})
	require.NoError(t, err)

	approvalSvc, err := approvals.NewService(db, ledger)
	require.NoError(t, err)

	policySvc, err := gate.NewPolicyService(db)
	require.NoError(t, err)

	actionGate, err := gate.New(db, resolver, manager, approvalSvc, policySvc, ledger)
	require.NoError(t, err)

	require.NoError(t, actionGate.RegisterExecutor(gate.ActionRefundCreate, referenceExecutor("refund")))
	require.NoError(t, actionGate.RegisterExecutor(gate.ActionPayoutCreate, referenceExecutor("payout")))
	require.NoError(t, actionGate.RegisterExecutor(gate.ActionCredentialsRotate, referenceExecutor("rotation")))

	impSvc, err := impersonation.NewService(db, manager, ledger)
	require.NoError(t, err)

	evaluator, err := alerts.NewEvaluator(db, ledger)
	require.NoError(t, err)

	require.NoError(t, actionGate.RegisterExecutor(gate.ActionPolicyUpdate, policyExecutor(policySvc)))
	require.NoError(t, actionGate.RegisterExecutor(gate.ActionAlertEvaluateNow, evaluateExecutor(evaluator)))

	auditCfg := &app.Config{}
	auditCfg.Security.EncryptionKey = "4242424242424242424242424242424242424242424242424242424242424242"
	auditCfg.Auth.Session.RefreshTTL = 24 * time.Hour
	auditCfg.StepUp.Window = 5 * time.Minute
	auditCfg.Audit.RetentionDays = 365
	securityAudit := security.NewAuditService(db, jwtSvc, auditCfg)

	router, err := api.NewRouter(db, api.Services{
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Resume:        resume,
		Resolver:      resolver,
		TOTP:          totp,
		StepUp:        manager,
		Gate:          actionGate,
		Policies:      policySvc,
		Approvals:     approvalSvc,
		Ledger:        ledger,
		Impersonation: impSvc,
		Alerts:        evaluator,
		SecurityAudit: securityAudit,
	})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Gate:   actionGate,
	}
}

func referenceExecutor(prefix string) gate.Executor {
	return func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
		return map[string]any{"reference": prefix + "_" + uuid.NewString()}, nil
	}
}

func policyExecutor(policies *gate.PolicyService) gate.Executor {
	return func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
		policy := models.ActionPolicy{}
		policy.ActionType, _ = inv.Payload["action_type"].(string)
		policy.StepUpRequired, _ = inv.Payload["step_up_required"].(bool)
		policy.DualControl, _ = inv.Payload["dual_control"].(bool)
		if raw, ok := inv.Payload["amount_threshold"]; ok {
			switch v := raw.(type) {
			case int64:
				policy.AmountThreshold = &v
			case float64:
				threshold := int64(v)
				policy.AmountThreshold = &threshold
			}
		}
		saved, err := policies.WithTx(tx).Upsert(ctx, inv.TenantID, policy)
		if err != nil {
			return nil, err
		}
		return map[string]any{"policy_id": saved.ID}, nil
	}
}

func evaluateExecutor(evaluator *alerts.Evaluator) gate.Executor {
	return func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
		events, err := evaluator.EvaluateTenant(ctx, inv.TenantID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events_fired": len(events)}, nil
	}
}

// CreateTenant inserts an active tenant with a random name and returns the record.
func (e *Env) CreateTenant() *models.Tenant {
	e.T.Helper()

	suffix := uuid.NewString()[:8]
	tenant := &models.Tenant{
		Name:     "tenant-" + suffix,
		Slug:     "tenant-" + suffix,
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(tenant).Error)
	return tenant
}

// CreatePrincipal inserts an active principal with a random username.
func (e *Env) CreatePrincipal(password string) *models.Principal {
	e.T.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	username := "principal-" + uuid.NewString()[:8]
	principal := &models.Principal{
		ID:       uuid.NewString(),
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
	}
	require.NoError(e.T, e.DB.Create(principal).Error)
	return principal
}

// AssignRole binds the principal to the tenant with the given role.
func (e *Env) AssignRole(principal *models.Principal, tenant *models.Tenant, role models.Role) {
	e.T.Helper()
	require.NoError(e.T, e.DB.Create(&models.RoleAssignment{
		PrincipalID: principal.ID,
		TenantID:    tenant.ID,
		Role:        role,
	}).Error)
}

// Elevate seeds a fresh step-up session so gated actions pass the freshness
// check without walking the TOTP challenge flow.
func (e *Env) Elevate(principalID string) {
	e.T.Helper()
	now := time.Now()
	require.NoError(e.T, e.DB.Create(&models.StepUpSession{
		PrincipalID: principalID,
		Method:      "totp",
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}).Error)
}

// TokenPair mirrors the token block of the login response payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// PrincipalPayload captures the principal fields returned from auth endpoints.
type PrincipalPayload struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	IsPartner    bool   `json:"is_partner"`
	TOTPEnrolled bool   `json:"totp_enrolled"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens    TokenPair        `json:"tokens"`
	Principal PrincipalPayload `json:"principal"`
}

// Login authenticates and returns the issued token pair.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
