package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/logger"
	"github.com/finovant/paydesk/pkg/metrics"
)

// Rule types shipped with the engine. Type is descriptive labeling only; the
// aggregate is always an action count over a trailing window.
const (
	RuleTypeVelocity  = "velocity"
	RuleTypeThreshold = "threshold"
)

// Evaluator scans enabled alert rules against the audit ledger. It runs from
// the maintenance scheduler in the steady state; EvaluateTenant also backs
// the step-up-gated manual re-run.
type Evaluator struct {
	db     *gorm.DB
	ledger *audit.Ledger
	now    func() time.Time
	log    *zap.Logger
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the evaluation clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(db *gorm.DB, ledger *audit.Ledger, opts ...Option) (*Evaluator, error) {
	if db == nil {
		return nil, errors.New("alerts: db is required")
	}
	if ledger == nil {
		return nil, errors.New("alerts: audit ledger is required")
	}

	evaluator := &Evaluator{
		db:     db,
		ledger: ledger,
		now:    time.Now,
		log:    logger.WithModule("alerts"),
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// CreateRule stores a new rule for the tenant.
func (e *Evaluator) CreateRule(ctx context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	rule.TenantID = strings.TrimSpace(rule.TenantID)
	rule.Action = strings.TrimSpace(rule.Action)
	if rule.TenantID == "" || rule.Action == "" {
		return nil, apperrors.NewBadRequest("tenant and action are required")
	}
	if rule.WindowSeconds <= 0 || rule.Threshold <= 0 {
		return nil, apperrors.NewBadRequest("window and threshold must be positive")
	}
	if rule.Type == "" {
		rule.Type = RuleTypeThreshold
	}

	if err := e.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("alerts: create rule: %w", err)
	}
	return &rule, nil
}

// SetRuleEnabled toggles a rule.
func (e *Evaluator) SetRuleEnabled(ctx context.Context, tenantID, ruleID string, enabled bool) error {
	result := e.db.WithContext(ctx).
		Model(&models.AlertRule{}).
		Where("id = ? AND tenant_id = ?", ruleID, tenantID).
		Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("alerts: toggle rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ListRules returns the tenant's rules.
func (e *Evaluator) ListRules(ctx context.Context, tenantID string) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := e.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("alerts: list rules: %w", err)
	}
	return rules, nil
}

// ListEvents returns the tenant's events, optionally only unresolved ones,
// newest first.
func (e *Evaluator) ListEvents(ctx context.Context, tenantID string, unresolvedOnly bool) ([]models.AlertEvent, error) {
	query := e.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if unresolvedOnly {
		query = query.Where("resolved = ?", false)
	}

	var events []models.AlertEvent
	if err := query.Order("occurred_at DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("alerts: list events: %w", err)
	}
	return events, nil
}

// EvaluateTenant runs every enabled rule of one tenant and returns the events
// fired in this pass.
func (e *Evaluator) EvaluateTenant(ctx context.Context, tenantID string) ([]models.AlertEvent, error) {
	ctx = ensureContext(ctx)

	var rules []models.AlertRule
	err := e.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("alerts: load rules: %w", err)
	}

	var fired []models.AlertEvent
	var errs error
	for i := range rules {
		events, err := e.evaluateRule(ctx, &rules[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		fired = append(fired, events...)
	}
	return fired, errs
}

// EvaluateAll runs every enabled rule across all tenants, for the scheduled
// pass. One misbehaving rule never stops the scan.
func (e *Evaluator) EvaluateAll(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	var tenantIDs []string
	err := e.db.WithContext(ctx).
		Model(&models.AlertRule{}).
		Where("enabled = ?", true).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIDs).Error
	if err != nil {
		return 0, fmt.Errorf("alerts: list rule tenants: %w", err)
	}

	var total int
	var errs error
	for _, tenantID := range tenantIDs {
		events, err := e.EvaluateTenant(ctx, tenantID)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		total += len(events)
	}
	if total > 0 {
		e.log.Info("alert evaluation pass fired events", zap.Int("events", total))
	}
	return total, errs
}

// Resolve closes an event. Resolution is what re-arms the rule.
func (e *Evaluator) Resolve(ctx context.Context, tenantID, eventID, resolvedBy string) error {
	ctx = ensureContext(ctx)

	now := e.now()
	result := e.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("id = ? AND tenant_id = ? AND resolved = ?", eventID, tenantID, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": &now,
			"resolved_by": strings.TrimSpace(resolvedBy),
		})
	if result.Error != nil {
		return fmt.Errorf("alerts: resolve event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// evaluateRule computes the rule's aggregate and fires events where the
// threshold is met, unless an unresolved event already covers the same
// (rule, actor) scope.
func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AlertRule) ([]models.AlertEvent, error) {
	now := e.now()
	since := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)

	type hit struct {
		actorID  *string
		observed int64
	}
	var hits []hit

	if rule.PerActor {
		totals, err := e.ledger.ActorTotals(ctx, rule.TenantID, rule.Action, since)
		if err != nil {
			return nil, err
		}
		for actorID, total := range totals {
			if total >= int64(rule.Threshold) {
				id := actorID
				hits = append(hits, hit{actorID: &id, observed: total})
			}
		}
	} else {
		total, err := e.ledger.CountActions(ctx, rule.TenantID, rule.Action, since, nil)
		if err != nil {
			return nil, err
		}
		if total >= int64(rule.Threshold) {
			hits = append(hits, hit{observed: total})
		}
	}

	var fired []models.AlertEvent
	for _, h := range hits {
		open, err := e.hasUnresolved(ctx, rule.ID, h.actorID)
		if err != nil {
			return nil, err
		}
		if open {
			continue
		}

		event := models.AlertEvent{
			RuleID:     rule.ID,
			TenantID:   rule.TenantID,
			ActorID:    h.actorID,
			OccurredAt: now,
			Observed:   int(h.observed),
		}
		if err := e.db.WithContext(ctx).Create(&event).Error; err != nil {
			return nil, fmt.Errorf("alerts: create event: %w", err)
		}

		metrics.AlertEventsFired.WithLabelValues(rule.Type).Inc()
		e.log.Warn("alert rule fired",
			zap.String("rule_id", rule.ID),
			zap.String("tenant_id", rule.TenantID),
			zap.String("action", rule.Action),
			zap.Int64("observed", h.observed),
			zap.Int("threshold", rule.Threshold))
		fired = append(fired, event)
	}
	return fired, nil
}

// hasUnresolved reports whether an open event already exists for the rule.
// Per-actor rules are scoped per actor: one actor's open event does not mute
// the rule for everybody else.
func (e *Evaluator) hasUnresolved(ctx context.Context, ruleID string, actorID *string) (bool, error) {
	query := e.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("rule_id = ? AND resolved = ?", ruleID, false)
	if actorID != nil {
		query = query.Where("actor_id = ?", *actorID)
	} else {
		query = query.Where("actor_id IS NULL")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("alerts: count unresolved events: %w", err)
	}
	return count > 0, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
