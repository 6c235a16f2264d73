package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/finovant/paydesk/internal/alerts"
	"github.com/finovant/paydesk/internal/audit"
	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/impersonation"
	"github.com/finovant/paydesk/internal/stepup"
	"github.com/finovant/paydesk/pkg/logger"
)

const (
	defaultAuditRetentionDays = 365
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultStepUpSpec         = "@hourly"
	defaultImpersonationSpec  = "@every 1m"
	defaultAlertSpec          = "@every 1m"

	// Verified step-up sessions stay queryable for a day past expiry so the
	// audit trail around a disputed action can still be reconstructed.
	stepUpPurgeAge = 24 * time.Hour
)

// Cleaner coordinates background maintenance: purging expired sessions and
// step-up state, enforcing audit retention, force-stopping overrun
// impersonation sessions, and evaluating alert rules.
type Cleaner struct {
	sessions      *iauth.SessionService
	ledger        *audit.Ledger
	stepup        *stepup.Manager
	impersonation *impersonation.Service
	alerts        *alerts.Evaluator
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	enabled       bool
	retention     int

	sessionSchedule       string
	auditSchedule         string
	stepUpSchedule        string
	impersonationSchedule string
	alertSchedule         string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit entries are retained before purge.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron expression for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithStepUpSchedule overrides the cron expression for step-up state purges.
func WithStepUpSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.stepUpSchedule = spec
		}
	}
}

// WithImpersonationSchedule overrides the cron expression for the impersonation sweep.
func WithImpersonationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.impersonationSchedule = spec
		}
	}
}

// WithAlertSchedule overrides the cron expression for alert rule evaluation.
func WithAlertSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.alertSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(sessions *iauth.SessionService, ledger *audit.Ledger, manager *stepup.Manager, imp *impersonation.Service, evaluator *alerts.Evaluator, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:              sessions,
		ledger:                ledger,
		stepup:                manager,
		impersonation:         imp,
		alerts:                evaluator,
		now:                   time.Now,
		retention:             defaultAuditRetentionDays,
		sessionSchedule:       defaultSessionSpec,
		auditSchedule:         defaultAuditSpec,
		stepUpSchedule:        defaultStepUpSpec,
		impersonationSchedule: defaultImpersonationSpec,
		alertSchedule:         defaultAlertSpec,
		log:                   logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.sessions != nil || cleaner.ledger != nil ||
		cleaner.stepup != nil || cleaner.impersonation != nil || cleaner.alerts != nil

	return cleaner
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.sessions.CleanupExpired(context.Background()); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.ledger != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.ledger.PurgeOlderThan(context.Background(), c.retention); err != nil {
				c.log.Warn("audit retention purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.stepup != nil {
		if _, err := c.cron.AddFunc(c.stepUpSchedule, func() {
			if _, err := c.stepup.PurgeExpired(context.Background(), stepUpPurgeAge); err != nil {
				c.log.Warn("step-up purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.impersonation != nil {
		if _, err := c.cron.AddFunc(c.impersonationSchedule, func() {
			if _, err := c.impersonation.Sweep(context.Background()); err != nil {
				c.log.Warn("impersonation sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.alerts != nil {
		if _, err := c.cron.AddFunc(c.alertSchedule, func() {
			if _, err := c.alerts.EvaluateAll(context.Background()); err != nil {
				c.log.Warn("alert evaluation failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured routines sequentially. Primarily used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.ledger != nil && c.retention > 0 {
		if _, err := c.ledger.PurgeOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.stepup != nil {
		if _, err := c.stepup.PurgeExpired(ctx, stepUpPurgeAge); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.impersonation != nil {
		if _, err := c.impersonation.Sweep(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.alerts != nil {
		if _, err := c.alerts.EvaluateAll(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
