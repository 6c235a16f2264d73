package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrincipalSession is a refresh-token login session for a principal. Step-up
// freshness is tracked separately in StepUpSession; this row only answers
// "is this principal logged in and from where".
type PrincipalSession struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	PrincipalID string     `gorm:"type:uuid;not null;index" json:"principal_id"`
	Principal   *Principal `gorm:"foreignKey:PrincipalID" json:"principal,omitempty"`

	RefreshToken string `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`

	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

func (s *PrincipalSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
