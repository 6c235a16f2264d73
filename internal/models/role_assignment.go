package models

import "time"

// Role is the fixed tenant-scoped role enumeration. Platform-level scopes
// (super admin, partner) live on Principal and are not part of this set.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleManager   Role = "manager"
	RoleFinance   Role = "finance"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
)

// Valid reports whether the role is one of the enumerated tenant roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleFinance, RoleDeveloper, RoleViewer:
		return true
	}
	return false
}

// RoleAssignment binds a principal to exactly one role within a tenant.
// The (principal, tenant) pair is unique by construction.
type RoleAssignment struct {
	BaseModel

	PrincipalID string     `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_principal_tenant" json:"principal_id"`
	Principal   *Principal `gorm:"foreignKey:PrincipalID" json:"principal,omitempty"`
	TenantID    string     `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_principal_tenant;index" json:"tenant_id"`
	Tenant      *Tenant    `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Role        Role       `gorm:"not null" json:"role"`

	GrantedBy *string `gorm:"type:uuid" json:"granted_by,omitempty"`
}

// PartnerAccess enumerates what a partner grant permits inside a tenant.
type PartnerAccess string

const (
	PartnerAccessRead      PartnerAccess = "read"
	PartnerAccessReadWrite PartnerAccess = "read_write"
)

// PartnerGrant gives a partner principal explicit access into one tenant.
// Partners have no standing in any tenant without a grant row.
type PartnerGrant struct {
	BaseModel

	PrincipalID string        `gorm:"type:uuid;not null;uniqueIndex:idx_partner_principal_tenant" json:"principal_id"`
	TenantID    string        `gorm:"type:uuid;not null;uniqueIndex:idx_partner_principal_tenant;index" json:"tenant_id"`
	Access      PartnerAccess `gorm:"not null;default:read" json:"access"`

	GrantedBy string     `gorm:"type:uuid;not null" json:"granted_by"`
	RevokedAt *time.Time `gorm:"index" json:"revoked_at,omitempty"`
}

// Active reports whether the grant is still in force.
func (g *PartnerGrant) Active() bool {
	return g.RevokedAt == nil
}
