package models

import "time"

// Stop attribution for impersonation sessions.
const (
	ImpersonationStoppedManual = "manual"
	ImpersonationStoppedSystem = "system"
)

// ImpersonationSession is a time-boxed, read-only view-as-tenant session held
// by a super-admin principal. At most one unfinished session may exist per
// principal; the invariant is enforced with a compare-and-insert.
type ImpersonationSession struct {
	BaseModel

	SuperAdminID string  `gorm:"type:uuid;not null;index" json:"super_admin_id"`
	TenantID     string  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Tenant       *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`

	StartedAt time.Time `gorm:"not null" json:"started_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	StoppedAt *time.Time `gorm:"index" json:"stopped_at,omitempty"`
	StoppedBy string     `json:"stopped_by,omitempty"`
}

// ActiveAt reports whether the session is running at the given instant.
func (s *ImpersonationSession) ActiveAt(now time.Time) bool {
	return s.StoppedAt == nil && now.Before(s.ExpiresAt)
}
