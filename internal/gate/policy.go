package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

// ResolvedPolicy is the effective control flags for one (tenant, action) pair.
type ResolvedPolicy struct {
	StepUpRequired  bool
	DualControl     bool
	AmountThreshold *int64
}

// platformDefaults is the fallback policy per action type when a tenant has
// not configured its own row. Thresholds are minor units except audit.export,
// where the magnitude is a row count.
var platformDefaults = map[string]ResolvedPolicy{
	ActionRefundCreate:      {StepUpRequired: true, DualControl: true, AmountThreshold: int64Ptr(100_000)},
	ActionPayoutCreate:      {StepUpRequired: true, DualControl: true},
	ActionCredentialsRotate: {StepUpRequired: true},
	ActionAuditExport:       {StepUpRequired: true, AmountThreshold: int64Ptr(10_000)},
	ActionPolicyUpdate:      {StepUpRequired: true},
	ActionAlertEvaluateNow:  {StepUpRequired: true},
	ActionApprovalDecide:    {StepUpRequired: true},
}

func int64Ptr(v int64) *int64 { return &v }

// PolicyService resolves and manages per-tenant action policies.
type PolicyService struct {
	db *gorm.DB
}

// NewPolicyService constructs a PolicyService.
func NewPolicyService(db *gorm.DB) (*PolicyService, error) {
	if db == nil {
		return nil, errors.New("gate: db is required")
	}
	return &PolicyService{db: db}, nil
}

// WithTx returns a copy of the service bound to the supplied transaction.
func (s *PolicyService) WithTx(tx *gorm.DB) *PolicyService {
	if tx == nil {
		return s
	}
	return &PolicyService{db: tx}
}

// Lookup returns the effective policy for the action, preferring the tenant's
// configured row over the platform default. approval.decide is pinned: it is
// always step-up gated and never dual-control, so a decision can never spawn
// an approval of its own.
func (s *PolicyService) Lookup(ctx context.Context, tenantID, actionType string) (ResolvedPolicy, error) {
	if actionType == ActionApprovalDecide {
		return platformDefaults[ActionApprovalDecide], nil
	}

	var row models.ActionPolicy
	err := s.db.WithContext(ctx).
		First(&row, "tenant_id = ? AND action_type = ?", tenantID, actionType).Error
	if err == nil {
		return ResolvedPolicy{
			StepUpRequired:  row.StepUpRequired,
			DualControl:     row.DualControl,
			AmountThreshold: row.AmountThreshold,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ResolvedPolicy{}, fmt.Errorf("gate: lookup policy: %w", err)
	}

	return platformDefaults[actionType], nil
}

// Upsert writes a tenant's policy row for an action, replacing any previous
// configuration.
func (s *PolicyService) Upsert(ctx context.Context, tenantID string, policy models.ActionPolicy) (*models.ActionPolicy, error) {
	tenantID = strings.TrimSpace(tenantID)
	policy.ActionType = strings.TrimSpace(policy.ActionType)
	if tenantID == "" || policy.ActionType == "" {
		return nil, apperrors.NewBadRequest("tenant and action type are required")
	}
	if !KnownAction(policy.ActionType) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown action type %q", policy.ActionType))
	}
	if policy.ActionType == ActionApprovalDecide {
		return nil, apperrors.NewBadRequest("approval.decide policy is fixed")
	}
	policy.TenantID = tenantID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ActionPolicy
		err := tx.First(&existing, "tenant_id = ? AND action_type = ?", tenantID, policy.ActionType).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&policy).Error
		}
		if err != nil {
			return err
		}

		policy.ID = existing.ID
		policy.CreatedAt = existing.CreatedAt
		policy.UpdatedAt = time.Now()
		return tx.Save(&policy).Error
	})
	if err != nil {
		return nil, fmt.Errorf("gate: upsert policy: %w", err)
	}
	return &policy, nil
}

// List returns the tenant's configured policy rows.
func (s *PolicyService) List(ctx context.Context, tenantID string) ([]models.ActionPolicy, error) {
	var rows []models.ActionPolicy
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("action_type").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gate: list policies: %w", err)
	}
	return rows, nil
}
