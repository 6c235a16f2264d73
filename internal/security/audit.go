package security

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/app"
	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/models"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// AuditService evaluates core security controls and configuration.
type AuditService struct {
	db  *gorm.DB
	jwt *iauth.JWTService
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. All dependencies are optional; missing
// inputs degrade specific checks to warnings.
func NewAuditService(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) *AuditService {
	return &AuditService{
		db:  db,
		jwt: jwt,
		cfg: cfg,
		now: time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkSuperAdminPresent(ctx),
		s.checkJWTSecret(),
		s.checkEncryptionKey(),
		s.checkSessionTTL(),
		s.checkStepUpWindow(),
		s.checkAuditRetention(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}

	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkSuperAdminPresent(ctx context.Context) Check {
	if s.db == nil {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusWarn,
			Message:     "Database unavailable: unable to confirm super admin presence",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Principal{}).
		Where("is_super_admin = ? AND disabled_at IS NULL", true).
		Count(&count).Error; err != nil {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not verify super admins: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count == 0 {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusFail,
			Message:     "No active super admin found.",
			Remediation: "Create an active super admin to guarantee platform access.",
		}
	}

	return Check{
		ID:      "super_admin_present",
		Status:  StatusPass,
		Message: "Super admin present.",
		Details: map[string]any{"count": count},
	}
}

func (s *AuditService) checkJWTSecret() Check {
	if s.jwt == nil {
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     "JWT service not initialised: unable to assess signing secret strength.",
			Remediation: "Initialise JWT service with a strong secret.",
		}
	}

	length := s.jwt.SecretLength()

	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of PAYDESK_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkEncryptionKey() Check {
	if s.cfg == nil {
		return Check{
			ID:          "totp_encryption_key",
			Status:      StatusWarn,
			Message:     "Configuration not loaded: unable to verify the TOTP encryption key.",
			Remediation: "Load configuration before running the security audit.",
		}
	}

	key, err := app.EncryptionKeyBytes(s.cfg.Security)
	if err != nil || len(key) == 0 {
		return Check{
			ID:          "totp_encryption_key",
			Status:      StatusFail,
			Message:     "TOTP secret encryption key is not configured.",
			Remediation: "Set PAYDESK_SECURITY_ENCRYPTION_KEY to a 32-byte random value.",
		}
	}

	length := len(key)
	if length < 32 {
		return Check{
			ID:          "totp_encryption_key",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("TOTP secret encryption key is %d bytes; AES-256-GCM needs 32.", length),
			Remediation: "Use a 32-byte key for AES-256-GCM.",
			Details:     map[string]any{"length": length},
		}
	}

	return Check{
		ID:      "totp_encryption_key",
		Status:  StatusPass,
		Message: "TOTP secret encryption key configured.",
		Details: map[string]any{"length": length},
	}
}

func (s *AuditService) checkSessionTTL() Check {
	if s.cfg == nil {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     "Configuration not loaded: unable to evaluate session lifetime.",
			Remediation: "Load configuration before running the security audit.",
		}
	}

	ttl := s.cfg.Auth.Session.RefreshTTL
	if ttl <= 0 {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     "Refresh token TTL is not configured; using default duration.",
			Remediation: "Set PAYDESK_AUTH_SESSION_REFRESH_TTL to control session lifetime.",
		}
	}

	const maxRecommended = 30 * 24 * time.Hour

	if ttl > maxRecommended {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommended),
			Remediation: "Reduce refresh token TTL to 30 days or lower to limit credential exposure.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      "session_refresh_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Refresh token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkStepUpWindow() Check {
	if s.cfg == nil {
		return Check{
			ID:          "step_up_window",
			Status:      StatusWarn,
			Message:     "Configuration not loaded: unable to evaluate the step-up freshness window.",
			Remediation: "Load configuration before running the security audit.",
		}
	}

	window := s.cfg.StepUp.Window
	if window < app.MinStepUpWindow || window > app.MaxStepUpWindow {
		return Check{
			ID:          "step_up_window",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Step-up window (%s) is outside the permitted range [%s, %s].", window, app.MinStepUpWindow, app.MaxStepUpWindow),
			Remediation: "Set PAYDESK_STEP_UP_WINDOW within the permitted range.",
			Details:     map[string]any{"window": window.String()},
		}
	}

	return Check{
		ID:      "step_up_window",
		Status:  StatusPass,
		Message: fmt.Sprintf("Step-up window is %s.", window),
		Details: map[string]any{"window": window.String()},
	}
}

func (s *AuditService) checkAuditRetention() Check {
	if s.cfg == nil {
		return Check{
			ID:          "audit_retention",
			Status:      StatusWarn,
			Message:     "Configuration not loaded: unable to evaluate audit retention.",
			Remediation: "Load configuration before running the security audit.",
		}
	}

	const minRecommendedDays = 90

	days := s.cfg.Audit.RetentionDays
	if days < minRecommendedDays {
		return Check{
			ID:          "audit_retention",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Audit retention (%d days) is below the recommended minimum (%d days).", days, minRecommendedDays),
			Remediation: "Raise PAYDESK_AUDIT_RETENTION_DAYS to at least 90 days.",
			Details:     map[string]any{"days": days},
		}
	}

	return Check{
		ID:      "audit_retention",
		Status:  StatusPass,
		Message: fmt.Sprintf("Audit retention is %d days.", days),
		Details: map[string]any{"days": days},
	}
}
