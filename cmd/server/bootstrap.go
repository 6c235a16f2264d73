package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/alerts"
	"github.com/finovant/paydesk/internal/api"
	"github.com/finovant/paydesk/internal/app"
	"github.com/finovant/paydesk/internal/app/maintenance"
	"github.com/finovant/paydesk/internal/approvals"
	"github.com/finovant/paydesk/internal/audit"
	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/cache"
	"github.com/finovant/paydesk/internal/database"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/impersonation"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/rbac"
	"github.com/finovant/paydesk/internal/security"
	"github.com/finovant/paydesk/internal/stepup"
	"github.com/finovant/paydesk/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   cache.Store
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, caches, engine services, cron
// jobs, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	switch {
	case stack.Redis != nil:
		sessionCfg.Cache = iauth.NewRedisSessionCache(stack.Redis)
	case dbStore != nil:
		sessionCfg.Cache = iauth.NewDatabaseSessionCache(dbStore)
	}

	sessionSvc, err := iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	resume, err := iauth.NewResumeEvaluator(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise resume evaluator: %w", err)
	}

	ledger, err := audit.NewLedger(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit ledger: %w", err)
	}

	resolverStore := cache.Store(dbStore)
	if stack.Redis != nil {
		resolverStore = stack.Redis
	}
	resolver, err := rbac.NewResolver(stack.DB, rbac.WithCache(resolverStore, 30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("initialise rbac resolver: %w", err)
	}

	encryptionKey, err := app.EncryptionKeyBytes(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}

	totp, err := stepup.NewTOTPService(stack.DB, encryptionKey, stepup.WithIssuer(cfg.Auth.JWT.Issuer))
	if err != nil {
		return nil, fmt.Errorf("initialise totp service: %w", err)
	}

	manager, err := stepup.NewManager(stack.DB, totp, cfg.StepUp.ManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise step-up manager: %w", err)
	}

	approvalSvc, err := approvals.NewService(stack.DB, ledger)
	if err != nil {
		return nil, fmt.Errorf("initialise approval service: %w", err)
	}

	policySvc, err := gate.NewPolicyService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise policy service: %w", err)
	}

	actionGate, err := gate.New(stack.DB, resolver, manager, approvalSvc, policySvc, ledger)
	if err != nil {
		return nil, fmt.Errorf("initialise gate: %w", err)
	}

	impSvc, err := impersonation.NewService(stack.DB, manager, ledger,
		impersonation.WithMaxDuration(cfg.Impersonation.MaxDuration))
	if err != nil {
		return nil, fmt.Errorf("initialise impersonation service: %w", err)
	}

	evaluator, err := alerts.NewEvaluator(stack.DB, ledger)
	if err != nil {
		return nil, fmt.Errorf("initialise alert evaluator: %w", err)
	}

	if err := registerExecutors(actionGate, policySvc, evaluator); err != nil {
		return nil, fmt.Errorf("register action executors: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(sessionSvc, ledger, manager, impSvc, evaluator,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
		maintenance.WithAlertSchedule(cfg.Alerts.Schedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	securityAudit := security.NewAuditService(stack.DB, jwtSvc, cfg)
	for _, check := range securityAudit.Run(ctx).Checks {
		switch check.Status {
		case security.StatusFail:
			log.Error("security audit check failed", zap.String("check", check.ID), zap.String("message", check.Message))
		case security.StatusWarn:
			log.Warn("security audit check", zap.String("check", check.ID), zap.String("message", check.Message))
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, api.Services{
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
		RateStore:     middleware.NewStoreRateStore(resolverStore),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// registerExecutors binds each gated action to its side effect. Back-office
// mutations (refunds, payouts, credential rotation) are dispatched to the
// payment core elsewhere; here they mint a reference the caller can track.
func registerExecutors(g *gate.Gate, policies *gate.PolicyService, evaluator *alerts.Evaluator) error {
	reference := func(prefix string) gate.Executor {
		return func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
			return map[string]any{"reference": prefix + "_" + uuid.NewString()}, nil
		}
	}

	if err := g.RegisterExecutor(gate.ActionRefundCreate, reference("refund")); err != nil {
		return err
	}
	if err := g.RegisterExecutor(gate.ActionPayoutCreate, reference("payout")); err != nil {
		return err
	}
	if err := g.RegisterExecutor(gate.ActionCredentialsRotate, reference("rotation")); err != nil {
		return err
	}

	// The export handler streams rows itself; the gate records the export.
	if err := g.RegisterExecutor(gate.ActionAuditExport, func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
		return map[string]any{"rows": inv.Payload["rows"]}, nil
	}); err != nil {
		return err
	}

	if err := g.RegisterExecutor(gate.ActionPolicyUpdate, policyExecutor(policies)); err != nil {
		return err
	}

	return g.RegisterExecutor(gate.ActionAlertEvaluateNow, func(ctx context.Context, tx *gorm.DB, inv gate.Invocation) (map[string]any, error) {
		events, err := evaluator.EvaluateTenant(ctx, inv.TenantID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events_fired": len(events)}, nil
	})
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.MigrateAll(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

// policyExecutor applies a policy change inside the gate transaction. Payloads
// that deferred through an approval arrive JSON-decoded, so numbers are float64.
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
			case int:
				threshold := int64(v)
				policy.AmountThreshold = &threshold
			}
		}

		saved, err := policies.WithTx(tx).Upsert(ctx, inv.TenantID, policy)
		if err != nil {
			return nil, err
		}
		return map[string]any{"policy_id": saved.ID, "action_type": saved.ActionType}, nil
	}
}
