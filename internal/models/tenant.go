package models

// Tenant is an isolated customer organization. Role assignments and most
// operational data are scoped to exactly one tenant.
type Tenant struct {
	BaseModel

	Name string `gorm:"uniqueIndex;not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	// StepUpWindowSeconds overrides the platform default freshness window
	// for step-up sessions. Bounded to [120, 900] at the service layer.
	StepUpWindowSeconds int `gorm:"default:0" json:"step_up_window_seconds"`

	IsActive bool `gorm:"default:true" json:"is_active"`
}
