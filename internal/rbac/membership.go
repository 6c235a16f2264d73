package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

// MembershipService mutates role assignments and partner grants. Every
// mutation commits atomically with its audit entry and invalidates the
// resolver cache for the touched principal.
type MembershipService struct {
	db       *gorm.DB
	resolver *Resolver
	ledger   *audit.Ledger
}

// NewMembershipService constructs a MembershipService.
func NewMembershipService(db *gorm.DB, resolver *Resolver, ledger *audit.Ledger) (*MembershipService, error) {
	if db == nil {
		return nil, errors.New("rbac: db is required")
	}
	if resolver == nil {
		return nil, errors.New("rbac: resolver is required")
	}
	if ledger == nil {
		return nil, errors.New("rbac: audit ledger is required")
	}
	return &MembershipService{db: db, resolver: resolver, ledger: ledger}, nil
}

// AssignRole sets the principal's tenant role, replacing any existing
// assignment. The (principal, tenant) uniqueness invariant holds throughout.
func (s *MembershipService) AssignRole(ctx context.Context, principalID, tenantID string, role models.Role, grantedBy string) (*models.RoleAssignment, error) {
	ctx = ensureContext(ctx)

	principalID = strings.TrimSpace(principalID)
	tenantID = strings.TrimSpace(tenantID)
	if principalID == "" || tenantID == "" {
		return nil, apperrors.NewBadRequest("principal and tenant are required")
	}
	if !role.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", role))
	}

	var assignment models.RoleAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous := ""
		var existing models.RoleAssignment
		err := tx.First(&existing, "principal_id = ? AND tenant_id = ?", principalID, tenantID).Error
		switch {
		case err == nil:
			previous = string(existing.Role)
			existing.Role = role
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("rbac: update assignment: %w", err)
			}
			assignment = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			assignment = models.RoleAssignment{
				PrincipalID: principalID,
				TenantID:    tenantID,
				Role:        role,
			}
			if grantedBy != "" {
				assignment.GrantedBy = &grantedBy
			}
			if err := tx.Create(&assignment).Error; err != nil {
				return fmt.Errorf("rbac: create assignment: %w", err)
			}
		default:
			return fmt.Errorf("rbac: load assignment: %w", err)
		}

		entry := audit.Entry{
			TenantID: &tenantID,
			Action:   "member.role_assign",
			Target:   principalID,
			Result:   models.AuditResultSuccess,
			After:    map[string]any{"role": string(role)},
		}
		if previous != "" {
			entry.Before = map[string]any{"role": previous}
		}
		if _, err := s.ledger.WithTx(tx).Append(ctx, entry); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolver.Invalidate(ctx, principalID, tenantID)
	return &assignment, nil
}

// RevokeRole removes the principal's tenant assignment.
func (s *MembershipService) RevokeRole(ctx context.Context, principalID, tenantID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("principal_id = ? AND tenant_id = ?", principalID, tenantID).
			Delete(&models.RoleAssignment{})
		if result.Error != nil {
			return fmt.Errorf("rbac: revoke assignment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &tenantID,
			Action:   "member.role_revoke",
			Target:   principalID,
			Result:   models.AuditResultSuccess,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.resolver.Invalidate(ctx, principalID, tenantID)
	return nil
}

// GrantPartner gives a partner principal explicit access into a tenant.
func (s *MembershipService) GrantPartner(ctx context.Context, principalID, tenantID string, access models.PartnerAccess, grantedBy string) (*models.PartnerGrant, error) {
	ctx = ensureContext(ctx)

	if access != models.PartnerAccessRead && access != models.PartnerAccessReadWrite {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown partner access %q", access))
	}

	var principal models.Principal
	if err := s.db.WithContext(ctx).First(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("rbac: load principal: %w", err)
	}
	if !principal.IsPartner {
		return nil, apperrors.NewBadRequest("principal does not carry the partner scope")
	}

	grant := models.PartnerGrant{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Access:      access,
		GrantedBy:   grantedBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&grant).Error; err != nil {
			return fmt.Errorf("rbac: create partner grant: %w", err)
		}

		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &tenantID,
			Action:   "member.partner_grant",
			Target:   principalID,
			Result:   models.AuditResultSuccess,
			After:    map[string]any{"access": string(access)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.resolver.Invalidate(ctx, principalID, tenantID)
	return &grant, nil
}

// RevokePartnerGrant soft-revokes an existing grant.
func (s *MembershipService) RevokePartnerGrant(ctx context.Context, principalID, tenantID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.PartnerGrant{}).
			Where("principal_id = ? AND tenant_id = ? AND revoked_at IS NULL", principalID, tenantID).
			Update("revoked_at", gorm.Expr("CURRENT_TIMESTAMP"))
		if result.Error != nil {
			return fmt.Errorf("rbac: revoke partner grant: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &tenantID,
			Action:   "member.partner_revoke",
			Target:   principalID,
			Result:   models.AuditResultSuccess,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.resolver.Invalidate(ctx, principalID, tenantID)
	return nil
}
