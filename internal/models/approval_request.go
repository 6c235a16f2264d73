package models

import (
	"time"

	"gorm.io/datatypes"
)

// ApprovalStatus enumerates the dual-control state machine. pending is the
// only non-terminal state; transitions are monotonic.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest defers a dual-control action until a second principal
// decides it. Rows are never deleted; the decision mutates the row exactly
// once through a conditional update guarded on status = pending.
type ApprovalRequest struct {
	BaseModel

	TenantID      string         `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ActionType    string         `gorm:"not null;index" json:"action_type"`
	ActionPayload datatypes.JSON `gorm:"not null" json:"action_payload"`

	// PayloadDigest fingerprints the payload so a re-attempt of the same
	// action maps onto the existing pending request instead of a duplicate.
	PayloadDigest string `gorm:"not null;index" json:"-"`

	RequestedBy string         `gorm:"type:uuid;not null;index" json:"requested_by"`
	Status      ApprovalStatus `gorm:"not null;default:pending;index" json:"status"`

	DecidedBy       *string    `gorm:"type:uuid" json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecisionComment string     `json:"decision_comment,omitempty"`
}

// Decided reports whether the request reached a terminal state.
func (r *ApprovalRequest) Decided() bool {
	return r.Status != ApprovalPending
}
