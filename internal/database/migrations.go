package database

import (
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Principal{},
		&models.Tenant{},
		&models.RoleAssignment{},
		&models.PartnerGrant{},
		&models.ActionPolicy{},
		&models.PrincipalSession{},
		&models.TOTPEnrollment{},
		&models.StepUpChallenge{},
		&models.StepUpSession{},
		&models.ApprovalRequest{},
		&models.AuditEntry{},
		&models.ImpersonationSession{},
		&models.AlertRule{},
		&models.AlertEvent{},
		&models.CacheEntry{},
	)
}
