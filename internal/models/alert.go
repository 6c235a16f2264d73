package models

import "time"

// AlertRule describes a threshold scan over recent audit activity: fire when
// the count of matching actions inside the trailing window reaches Threshold.
type AlertRule struct {
	BaseModel

	TenantID string `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Type     string `gorm:"not null" json:"type"`

	// Action filters which audit actions the aggregate counts, e.g. "refunds.create".
	Action        string `gorm:"not null" json:"action"`
	WindowSeconds int    `gorm:"not null" json:"window_seconds"`
	Threshold     int    `gorm:"not null" json:"threshold"`

	// PerActor scopes the aggregate to a single actor rather than the tenant total.
	PerActor bool `gorm:"default:false" json:"per_actor"`

	Enabled bool `gorm:"default:true;index" json:"enabled"`
}

// AlertEvent records one firing of a rule. An unresolved event suppresses
// re-firing of its rule until it is resolved or the window rolls over.
type AlertEvent struct {
	BaseModel

	RuleID string     `gorm:"type:uuid;not null;index" json:"rule_id"`
	Rule   *AlertRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`

	TenantID   string    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ActorID    *string   `gorm:"type:uuid" json:"actor_id,omitempty"`
	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	Observed   int       `gorm:"not null" json:"observed"`

	Resolved   bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *string    `gorm:"type:uuid" json:"resolved_by,omitempty"`
}
