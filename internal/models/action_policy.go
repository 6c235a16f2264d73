package models

// ActionPolicy is the tenant-configurable gating policy for one action type:
// whether it demands a fresh step-up verification, whether it is routed
// through dual control, and the magnitude (minor units, or rows for exports)
// at or above which those requirements kick in. A nil threshold means they
// apply unconditionally.
//
// The gate looks these up at invocation time; nothing about thresholds is
// hard-coded in gate logic.
type ActionPolicy struct {
	BaseModel

	TenantID   string `gorm:"type:uuid;not null;uniqueIndex:idx_policy_tenant_action" json:"tenant_id"`
	ActionType string `gorm:"not null;uniqueIndex:idx_policy_tenant_action" json:"action_type"`

	StepUpRequired  bool   `gorm:"default:false" json:"step_up_required"`
	DualControl     bool   `gorm:"default:false" json:"dual_control"`
	AmountThreshold *int64 `json:"amount_threshold,omitempty"`
}
