package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Principal describes an authenticated actor of the back office: a human user
// belonging to one or more tenants, or a platform operator carrying the
// super-admin scope. Principals are never physically deleted; disabling keeps
// audit references intact.
type Principal struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	// IsSuperAdmin marks the platform-wide operator scope. It is orthogonal
	// to tenant role assignments and checked as its own branch.
	IsSuperAdmin bool `gorm:"default:false" json:"is_super_admin"`

	// IsPartner marks the cross-cutting shareholder role; tenant access is
	// granted through explicit PartnerGrant rows, never implicitly.
	IsPartner bool `gorm:"default:false" json:"is_partner"`

	TOTPEnrolled bool `gorm:"default:false" json:"totp_enrolled"`

	PasswordChangeRequired bool `gorm:"default:false" json:"password_change_required"`

	DisabledAt *time.Time `gorm:"index" json:"disabled_at,omitempty"`

	Assignments []RoleAssignment `gorm:"foreignKey:PrincipalID" json:"assignments,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (p *Principal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Disabled reports whether the principal has been soft-disabled.
func (p *Principal) Disabled() bool {
	return p.DisabledAt != nil
}
