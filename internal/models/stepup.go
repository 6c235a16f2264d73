package models

import "time"

// StepUpChallenge is an open second-factor prompt. Attempts are incremented
// atomically; once MaxAttempts is reached the challenge is dead and a new one
// must be issued.
type StepUpChallenge struct {
	BaseModel

	PrincipalID string `gorm:"type:uuid;not null;index" json:"principal_id"`

	// TenantID records the tenant context the challenge was issued in; it
	// selects the tenant's freshness window on successful verification.
	TenantID *string `gorm:"type:uuid" json:"tenant_id,omitempty"`

	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null" json:"max_attempts"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Exhausted reports whether the attempt budget has been spent.
func (c *StepUpChallenge) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// StepUpSession proves the principal recently re-entered a second factor.
// It is read by the gate, never deleted; expiry is purely wall-clock with no
// sliding renewal.
type StepUpSession struct {
	BaseModel

	PrincipalID string    `gorm:"type:uuid;not null;index" json:"principal_id"`
	Method      string    `gorm:"not null;default:totp" json:"method"`
	IssuedAt    time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt   time.Time `gorm:"not null;index" json:"expires_at"`
}

// FreshAt reports whether the session is unexpired at the given instant.
func (s *StepUpSession) FreshAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TOTPEnrollment stores the encrypted shared secret for a principal's
// authenticator. The row is only ever written in the same transaction as the
// first successful verification; a secret that was never proven never reaches
// this table, so every stored enrollment is activated.
type TOTPEnrollment struct {
	BaseModel

	PrincipalID   string     `gorm:"type:uuid;uniqueIndex;not null" json:"principal_id"`
	Secret        string     `gorm:"not null" json:"-"`
	RecoveryCodes string     `gorm:"type:json" json:"-"`
	ActivatedAt   time.Time  `gorm:"not null" json:"activated_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}
