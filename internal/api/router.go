package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/alerts"
	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/audit"
	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/handlers"
	"github.com/finovant/paydesk/internal/impersonation"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/rbac"
	"github.com/finovant/paydesk/internal/security"
	"github.com/finovant/paydesk/internal/stepup"
)

// Services bundles the wired engine services the router exposes over HTTP.
type Services struct {
	JWT           *iauth.JWTService
	Sessions      *iauth.SessionService
	Resume        *iauth.ResumeEvaluator
	Resolver      *rbac.Resolver
	TOTP          *stepup.TOTPService
	StepUp        *stepup.Manager
	Gate          *gate.Gate
	Policies      *gate.PolicyService
	Approvals     *approvals.Service
	Ledger        *audit.Ledger
	Impersonation *impersonation.Service
	Alerts        *alerts.Evaluator

	// SecurityAudit is optional; when absent the audit endpoint is not registered.
	SecurityAudit *security.AuditService

	// RateStore is optional; when set, rate-limit windows are shared through
	// it instead of process memory.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, svc Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if svc.JWT == nil || svc.Sessions == nil || svc.Resume == nil || svc.Resolver == nil ||
		svc.TOTP == nil || svc.StepUp == nil || svc.Gate == nil || svc.Policies == nil ||
		svc.Approvals == nil || svc.Ledger == nil || svc.Impersonation == nil || svc.Alerts == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	rateStore := svc.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}

	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimitWith(rateStore, 100, time.Minute))

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	authHandler := handlers.NewAuthHandler(db, svc.Sessions, svc.Resume)

	// Public auth routes, tighter limit against credential stuffing
	auth := r.Group("/api/auth")
	auth.Use(middleware.RateLimitWith(rateStore, 10, time.Minute))
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	requireAuth := middleware.Auth(svc.JWT)

	api := r.Group("/api")
	api.Use(requireAuth)
	api.Use(middleware.ActorContext())

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.GET("/auth/resume", authHandler.Resume)
	api.POST("/auth/logout", authHandler.Logout)

	// Step-up enrollment and verification
	stepUpHandler := handlers.NewStepUpHandler(db, svc.TOTP, svc.StepUp)
	su := api.Group("/stepup")
	{
		su.POST("/enroll", stepUpHandler.BeginEnrollment)
		su.POST("/enroll/activate", stepUpHandler.ActivateEnrollment)
		su.POST("/challenge", stepUpHandler.Challenge)
		su.POST("/verify", stepUpHandler.Verify)
	}

	// Tenant-scoped engine surface
	actionHandler := handlers.NewActionHandler(svc.Gate)
	approvalHandler := handlers.NewApprovalHandler(svc.Approvals, svc.Gate)
	auditHandler := handlers.NewAuditHandler(svc.Ledger, svc.Gate)
	policyHandler := handlers.NewPolicyHandler(svc.Policies, svc.Gate)
	alertHandler := handlers.NewAlertHandler(svc.Alerts, svc.Gate)
	membership, err := rbac.NewMembershipService(db, svc.Resolver, svc.Ledger)
	if err != nil {
		return nil, err
	}
	memberHandler := handlers.NewMemberHandler(db, membership)

	requirePerm := func(perm rbac.Permission) gin.HandlerFunc {
		return middleware.RequirePermission(svc.Resolver, perm)
	}

	tenants := api.Group("/tenants/:tenantId")
	{
		// The gate does its own authorization; no permission middleware here.
		tenants.POST("/actions/:actionType", actionHandler.Invoke)

		tenants.GET("/approvals", requirePerm(rbac.PermApprovalsView), approvalHandler.List)
		tenants.GET("/approvals/:id", requirePerm(rbac.PermApprovalsView), approvalHandler.Get)
		tenants.POST("/approvals/:id/decide", approvalHandler.Decide)

		tenants.GET("/audit", requirePerm(rbac.PermAuditView), auditHandler.List)
		tenants.GET("/audit/export", auditHandler.Export)

		tenants.GET("/policies", requirePerm(rbac.PermTenantView), policyHandler.List)
		tenants.PUT("/policies", policyHandler.Upsert)

		tenants.GET("/members", requirePerm(rbac.PermTenantView), memberHandler.List)
		tenants.PUT("/members", requirePerm(rbac.PermMembersManage), memberHandler.Assign)
		tenants.DELETE("/members/:principalId", requirePerm(rbac.PermMembersManage), memberHandler.Remove)
		tenants.PUT("/partners", requirePerm(rbac.PermMembersManage), memberHandler.GrantPartner)
		tenants.DELETE("/partners/:principalId", requirePerm(rbac.PermMembersManage), memberHandler.RevokePartner)

		tenants.GET("/alerts/rules", requirePerm(rbac.PermAlertsView), alertHandler.ListRules)
		tenants.POST("/alerts/rules", requirePerm(rbac.PermAlertsManage), alertHandler.CreateRule)
		tenants.POST("/alerts/rules/:id/enabled", requirePerm(rbac.PermAlertsManage), alertHandler.SetRuleEnabled)
		tenants.GET("/alerts/events", requirePerm(rbac.PermAlertsView), alertHandler.ListEvents)
		tenants.POST("/alerts/events/:id/resolve", requirePerm(rbac.PermAlertsManage), alertHandler.ResolveEvent)
		tenants.POST("/alerts/evaluate", alertHandler.EvaluateNow)
	}

	// Impersonation (super-admin only, enforced by the service)
	impHandler := handlers.NewImpersonationHandler(svc.Impersonation)
	imp := api.Group("/impersonation")
	{
		imp.POST("/start", impHandler.Start)
		imp.POST("/stop", impHandler.Stop)
		imp.GET("/active", impHandler.Active)
	}

	// Security self-audit (super-admin only, enforced by the handler)
	if svc.SecurityAudit != nil {
		securityHandler := handlers.NewSecurityHandler(db, svc.SecurityAudit)
		api.GET("/security/audit", securityHandler.Run)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
