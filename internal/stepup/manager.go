package stepup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
)

// Freshness window bounds. Tenant configuration is clamped into this range;
// super admins always get the forced platform window.
const (
	MinWindow = 120 * time.Second
	MaxWindow = 900 * time.Second
)

const (
	defaultWindow       = 300 * time.Second
	defaultChallengeTTL = 5 * time.Minute
	defaultMaxAttempts  = 5
)

// Config tunes the verification manager.
type Config struct {
	// Window is the platform default freshness window, used when a tenant
	// has no override.
	Window time.Duration

	// SuperAdminWindow is forced for super-admin principals regardless of
	// tenant configuration.
	SuperAdminWindow time.Duration

	// ChallengeTTL bounds how long an open challenge accepts codes.
	ChallengeTTL time.Duration

	// MaxAttempts bounds verify attempts per challenge before it dies.
	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.SuperAdminWindow <= 0 {
		c.SuperAdminWindow = c.Window
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = defaultChallengeTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Manager issues, verifies, and expires step-up challenges and the
// short-lived freshness sessions they mint. Sessions expire on the wall
// clock with no sliding renewal: once the window lapses a fresh verification
// is required even mid-operation.
type Manager struct {
	db   *gorm.DB
	totp *TOTPService
	cfg  Config
	now  func() time.Time
}

// NewManager constructs a verification manager.
func NewManager(db *gorm.DB, totp *TOTPService, cfg Config) (*Manager, error) {
	if db == nil {
		return nil, errors.New("stepup: db is required")
	}
	if totp == nil {
		return nil, errors.New("stepup: totp service is required")
	}

	cfg.applyDefaults()
	return &Manager{db: db, totp: totp, cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the manager clock, primarily for testing.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Challenge opens a second-factor prompt for the principal. The tenant id
// records which tenant's freshness window applies on success; it may be
// empty for tenant-less contexts.
func (m *Manager) Challenge(ctx context.Context, principalID, tenantID string) (*models.StepUpChallenge, error) {
	ctx = ensureContext(ctx)

	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, apperrors.NewBadRequest("principal is required")
	}

	activated, err := m.totp.Activated(principalID)
	if err != nil {
		return nil, err
	}
	if !activated {
		return nil, apperrors.New("NOT_ENROLLED", "No activated authenticator for principal", http.StatusConflict)
	}

	challenge := models.StepUpChallenge{
		PrincipalID: principalID,
		ExpiresAt:   m.now().Add(m.cfg.ChallengeTTL),
		MaxAttempts: m.cfg.MaxAttempts,
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		challenge.TenantID = &tenantID
	}

	if err := m.db.WithContext(ctx).Create(&challenge).Error; err != nil {
		return nil, fmt.Errorf("stepup: create challenge: %w", err)
	}

	return &challenge, nil
}

// Verify checks a code against an open challenge. The attempt counter is
// incremented with a single conditional update so concurrent retries cannot
// slip past the limit; the loser observes RateLimited. On success a
// StepUpSession is minted for the applicable window.
func (m *Manager) Verify(ctx context.Context, challengeID, code string) (*models.StepUpSession, error) {
	ctx = ensureContext(ctx)

	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, apperrors.NewBadRequest("challenge is required")
	}

	var challenge models.StepUpChallenge
	if err := m.db.WithContext(ctx).First(&challenge, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChallengeExpired
		}
		return nil, fmt.Errorf("stepup: load challenge: %w", err)
	}

	now := m.now()
	if challenge.ConsumedAt != nil || !now.Before(challenge.ExpiresAt) {
		metrics.StepUpVerifications.WithLabelValues("expired").Inc()
		return nil, apperrors.ErrChallengeExpired
	}

	// Claim an attempt slot atomically; zero rows means the budget is gone.
	claim := m.db.WithContext(ctx).
		Model(&models.StepUpChallenge{}).
		Where("id = ? AND attempts < max_attempts", challengeID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if claim.Error != nil {
		return nil, fmt.Errorf("stepup: count attempt: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		metrics.StepUpVerifications.WithLabelValues("rate_limited").Inc()
		return nil, apperrors.ErrRateLimited
	}

	valid, err := m.totp.VerifyCode(challenge.PrincipalID, code)
	if err != nil {
		return nil, err
	}
	if !valid {
		metrics.StepUpVerifications.WithLabelValues("invalid_code").Inc()
		return nil, apperrors.ErrInvalidCode
	}

	window, err := m.windowFor(ctx, challenge.PrincipalID, challenge.TenantID)
	if err != nil {
		return nil, err
	}

	session := models.StepUpSession{
		PrincipalID: challenge.PrincipalID,
		Method:      "totp",
		IssuedAt:    now,
		ExpiresAt:   now.Add(window),
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&challenge).Update("consumed_at", &now).Error; err != nil {
			return fmt.Errorf("stepup: consume challenge: %w", err)
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("stepup: create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StepUpVerifications.WithLabelValues("success").Inc()
	return &session, nil
}

// IsFresh reports whether an unexpired step-up session exists for the
// principal. Sessions are read, never deleted; expiry is implicit.
func (m *Manager) IsFresh(ctx context.Context, principalID string) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.StepUpSession{}).
		Where("principal_id = ? AND expires_at > ?", principalID, m.now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("stepup: check freshness: %w", err)
	}
	return count > 0, nil
}

// PurgeExpired removes long-dead challenges and sessions. Housekeeping only;
// correctness never depends on it.
func (m *Manager) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := m.now().Add(-olderThan)
	total := int64(0)

	result := m.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.StepUpChallenge{})
	if result.Error != nil {
		return total, fmt.Errorf("stepup: purge challenges: %w", result.Error)
	}
	total += result.RowsAffected

	result = m.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.StepUpSession{})
	if result.Error != nil {
		return total, fmt.Errorf("stepup: purge sessions: %w", result.Error)
	}
	total += result.RowsAffected

	return total, nil
}

func (m *Manager) windowFor(ctx context.Context, principalID string, tenantID *string) (time.Duration, error) {
	var principal models.Principal
	if err := m.db.WithContext(ctx).First(&principal, "id = ?", principalID).Error; err != nil {
		return 0, fmt.Errorf("stepup: load principal: %w", err)
	}
	if principal.IsSuperAdmin {
		return clampWindow(m.cfg.SuperAdminWindow), nil
	}

	if tenantID != nil {
		var tenant models.Tenant
		err := m.db.WithContext(ctx).First(&tenant, "id = ?", *tenantID).Error
		if err == nil && tenant.StepUpWindowSeconds > 0 {
			return clampWindow(time.Duration(tenant.StepUpWindowSeconds) * time.Second), nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("stepup: load tenant: %w", err)
		}
	}

	return clampWindow(m.cfg.Window), nil
}

func clampWindow(window time.Duration) time.Duration {
	if window < MinWindow {
		return MinWindow
	}
	if window > MaxWindow {
		return MaxWindow
	}
	return window
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
