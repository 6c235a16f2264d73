package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEntry is one append-only record of a sensitive action. ActorID is nil
// for system-initiated entries (sweeps, evaluators). Entries are immutable
// once written; no update or delete path exists outside retention cleanup.
type AuditEntry struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	TenantID *string    `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	ActorID  *string    `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	Actor    *Principal `gorm:"foreignKey:ActorID" json:"actor,omitempty"`

	Action string `gorm:"not null;index" json:"action"`
	Target string `gorm:"index" json:"target"`
	Result string `gorm:"not null" json:"result"`

	Before string `gorm:"type:json" json:"before,omitempty"`
	After  string `gorm:"type:json" json:"after,omitempty"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultDenied  = "denied"
	AuditResultFailure = "failure"
)
