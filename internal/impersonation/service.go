package impersonation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/stepup"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
)

// DefaultMaxDuration bounds a view-as session. The sweep force-stops
// anything older.
const DefaultMaxDuration = 30 * time.Minute

// Service manages super-admin view-as-tenant sessions. Sessions are
// read-only by construction: the permission resolver strips every write
// permission while one is active, so nothing here needs to intercept writes.
type Service struct {
	db           *gorm.DB
	verification *stepup.Manager
	ledger       *audit.Ledger
	maxDuration  time.Duration
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMaxDuration overrides the session duration cap.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithClock overrides the service clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs an impersonation Service.
func NewService(db *gorm.DB, verification *stepup.Manager, ledger *audit.Ledger, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("impersonation: db is required")
	}
	if verification == nil {
		return nil, errors.New("impersonation: step-up manager is required")
	}
	if ledger == nil {
		return nil, errors.New("impersonation: audit ledger is required")
	}

	service := &Service{
		db:           db,
		verification: verification,
		ledger:       ledger,
		maxDuration:  DefaultMaxDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Start opens a session for the super admin against the tenant. It demands a
// fresh step-up verification and enforces one unfinished session per
// principal: the active-count check runs inside the same transaction as the
// insert, so two browser tabs racing Start cannot both win.
func (s *Service) Start(ctx context.Context, superAdminID, tenantID string) (*models.ImpersonationSession, error) {
	ctx = ensureContext(ctx)

	superAdminID = strings.TrimSpace(superAdminID)
	tenantID = strings.TrimSpace(tenantID)
	if superAdminID == "" || tenantID == "" {
		return nil, apperrors.NewBadRequest("super admin and tenant are required")
	}

	var principal models.Principal
	if err := s.db.WithContext(ctx).First(&principal, "id = ?", superAdminID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotAuthorized
		}
		return nil, fmt.Errorf("impersonation: load principal: %w", err)
	}
	if !principal.IsSuperAdmin || principal.Disabled() {
		return nil, apperrors.ErrNotAuthorized
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, "id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("impersonation: load tenant: %w", err)
	}

	if err := s.requireFresh(ctx, superAdminID); err != nil {
		return nil, err
	}

	now := s.now()
	session := models.ImpersonationSession{
		SuperAdminID: superAdminID,
		TenantID:     tenantID,
		StartedAt:    now,
		ExpiresAt:    now.Add(s.maxDuration),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("impersonation: create session: %w", err)
		}

		// Compare-and-insert: count after inserting, inside the
		// transaction. More than one unfinished row means a concurrent
		// Start got there first and this one rolls back.
		var active int64
		err := tx.Model(&models.ImpersonationSession{}).
			Where("super_admin_id = ? AND stopped_at IS NULL AND expires_at > ?", superAdminID, now).
			Count(&active).Error
		if err != nil {
			return fmt.Errorf("impersonation: count active sessions: %w", err)
		}
		if active > 1 {
			return apperrors.ErrSessionActive
		}

		_, err = s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &session.TenantID,
			ActorID:  &session.SuperAdminID,
			Action:   "impersonation.start",
			Target:   session.ID,
			Result:   models.AuditResultSuccess,
			After:    map[string]any{"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveImpersonations.Inc()
	return &session, nil
}

// Stop finishes a session manually. Stopping is exactly as sensitive as
// starting, so it is step-up gated too.
func (s *Service) Stop(ctx context.Context, superAdminID, sessionID string) error {
	ctx = ensureContext(ctx)

	superAdminID = strings.TrimSpace(superAdminID)
	sessionID = strings.TrimSpace(sessionID)
	if superAdminID == "" || sessionID == "" {
		return apperrors.NewBadRequest("super admin and session are required")
	}

	if err := s.requireFresh(ctx, superAdminID); err != nil {
		return err
	}

	var session models.ImpersonationSession
	err := s.db.WithContext(ctx).
		First(&session, "id = ? AND super_admin_id = ?", sessionID, superAdminID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("impersonation: load session: %w", err)
	}

	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.ImpersonationSession{}).
			Where("id = ? AND stopped_at IS NULL", session.ID).
			Updates(map[string]any{
				"stopped_at": &now,
				"stopped_by": models.ImpersonationStoppedManual,
			})
		if claim.Error != nil {
			return fmt.Errorf("impersonation: stop session: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		metrics.ActiveImpersonations.Dec()
		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &session.TenantID,
			ActorID:  &session.SuperAdminID,
			Action:   "impersonation.stop",
			Target:   session.ID,
			Result:   models.AuditResultSuccess,
			After:    map[string]any{"stopped_by": models.ImpersonationStoppedManual},
		})
		return err
	})
}

// ActiveFor returns the principal's live session, if any. Elapsed leftovers
// the sweep has not reached yet are force-stopped on the way: an unswept
// stale row must never shadow a session that is still running.
func (s *Service) ActiveFor(ctx context.Context, superAdminID string) (*models.ImpersonationSession, error) {
	ctx = ensureContext(ctx)

	var sessions []models.ImpersonationSession
	err := s.db.WithContext(ctx).
		Where("super_admin_id = ? AND stopped_at IS NULL", superAdminID).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("impersonation: load active sessions: %w", err)
	}

	now := s.now()
	var live *models.ImpersonationSession
	for i := range sessions {
		if sessions[i].ActiveAt(now) {
			live = &sessions[i]
			continue
		}
		if err := s.forceStop(ctx, &sessions[i]); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// Sweep force-stops every session whose max duration has elapsed. Run on a
// schedule; errors are aggregated so one bad row does not shadow the rest.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	var elapsed []models.ImpersonationSession
	err := s.db.WithContext(ctx).
		Where("stopped_at IS NULL AND expires_at <= ?", s.now()).
		Find(&elapsed).Error
	if err != nil {
		return 0, fmt.Errorf("impersonation: list elapsed sessions: %w", err)
	}

	var stopped int
	var errs error
	for i := range elapsed {
		if err := s.forceStop(ctx, &elapsed[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		stopped++
	}
	return stopped, errs
}

// forceStop ends an elapsed session with system attribution. The audit entry
// carries no actor: nobody pushed the button.
func (s *Service) forceStop(ctx context.Context, session *models.ImpersonationSession) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.ImpersonationSession{}).
			Where("id = ? AND stopped_at IS NULL", session.ID).
			Updates(map[string]any{
				"stopped_at": &now,
				"stopped_by": models.ImpersonationStoppedSystem,
			})
		if claim.Error != nil {
			return fmt.Errorf("impersonation: force-stop session: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return nil
		}

		metrics.ActiveImpersonations.Dec()
		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &session.TenantID,
			Action:   "impersonation.force_stop",
			Target:   session.ID,
			Result:   models.AuditResultSuccess,
			After: map[string]any{
				"stopped_by":     models.ImpersonationStoppedSystem,
				"super_admin_id": session.SuperAdminID,
			},
		})
		return err
	})
}

func (s *Service) requireFresh(ctx context.Context, principalID string) error {
	fresh, err := s.verification.IsFresh(ctx, principalID)
	if err != nil {
		return err
	}
	if !fresh {
		return apperrors.ErrStepUpRequired
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
