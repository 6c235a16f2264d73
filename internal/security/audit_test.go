package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finovant/paydesk/internal/app"
	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
)

func auditConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Security.EncryptionKey = strings.Repeat("ab", 32)
	cfg.Auth.Session.RefreshTTL = 7 * 24 * time.Hour
	cfg.StepUp.Window = 5 * time.Minute
	cfg.Audit.RetentionDays = 365
	return cfg
}

func checkByID(t *testing.T, result Result, id string) Check {
	t.Helper()
	for _, check := range result.Checks {
		if check.ID == id {
			return check
		}
	}
	t.Fatalf("check %q not found", id)
	return Check{}
}

func TestAuditServiceRun(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	admin := models.Principal{
		Username:     "root-admin",
		Email:        "root@paydesk.test",
		Password:     "x",
		IsSuperAdmin: true,
	}
	require.NoError(t, db.Create(&admin).Error)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         strings.Repeat("s", 48),
		Issuer:         "paydesk-test",
		AccessTokenTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	svc := NewAuditService(db, jwtSvc, auditConfig())
	fixed := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	result := svc.Run(context.Background())

	require.Equal(t, fixed, result.CheckedAt)
	require.Len(t, result.Checks, 6)
	require.Zero(t, result.Summary[string(StatusFail)])
	require.Equal(t, StatusPass, checkByID(t, result, "super_admin_present").Status)
	require.Equal(t, StatusPass, checkByID(t, result, "jwt_secret_strength").Status)
	require.Equal(t, StatusPass, checkByID(t, result, "totp_encryption_key").Status)
	require.Equal(t, StatusPass, checkByID(t, result, "step_up_window").Status)
	require.Equal(t, StatusPass, checkByID(t, result, "audit_retention").Status)
}

func TestAuditServiceDetectsMissingSuperAdmin(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc := NewAuditService(db, nil, auditConfig())
	result := svc.Run(context.Background())

	check := checkByID(t, result, "super_admin_present")
	require.Equal(t, StatusFail, check.Status)
	require.Contains(t, check.Remediation, "super admin")

	require.Equal(t, StatusWarn, checkByID(t, result, "jwt_secret_strength").Status)
}

func TestAuditServiceFlagsShortStepUpWindow(t *testing.T) {
	cfg := auditConfig()
	cfg.StepUp.Window = 30 * time.Second

	svc := NewAuditService(nil, nil, cfg)
	result := svc.Run(context.Background())

	check := checkByID(t, result, "step_up_window")
	require.Equal(t, StatusFail, check.Status)
	require.Contains(t, check.Message, "30s")
}
